package driver

import (
	"encoding/json"
	"net/http"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/hanfei1991/batcher/model"
)

// Status is the snapshot served on the status endpoint.
type Status struct {
	Paused     bool                 `json:"paused"`
	Iterations int64                `json:"iterations"`
	Strategy   string               `json:"strategy"`
	Last       []*model.CycleReport `json:"last"`
}

// Status returns the current driver status.
func (d *Driver) Status() Status {
	return Status{
		Paused:     d.Paused(),
		Iterations: d.Iterations(),
		Strategy:   d.sched.Searcher().Name(),
		Last:       d.LastReports(),
	}
}

// RegisterHandlers mounts the status and pause/resume endpoints on mux.
func (d *Driver) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/status", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(rw, d.Status())
	})
	mux.HandleFunc("/pause", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		d.Pause()
		writeJSON(rw, d.Status())
	})
	mux.HandleFunc("/resume", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		d.Resume()
		writeJSON(rw, d.Status())
	})
}

func writeJSON(rw http.ResponseWriter, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.L().Warn("write status response failed", zap.Error(err))
	}
}
