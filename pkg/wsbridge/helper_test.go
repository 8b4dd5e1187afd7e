package wsbridge

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// websocketHandler reads one request and hangs up without answering.
func websocketHandler(upgrader *websocket.Upgrader, gotRequest chan<- struct{}) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		close(gotRequest)
		_ = conn.Close()
	}
}
