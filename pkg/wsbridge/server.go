package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/hostapi"
)

// NewHandler serves backend over the bridge protocol. It is the
// counterpart of Client and lets the agent drive a simulated host the same
// way it drives the game. Optional capabilities the backend lacks are
// answered with an error.
func NewHandler(backend hostapi.Host) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			log.L().Warn("upgrade bridge connection failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			resp := serve(ctx, backend, msg)
			data, err := json.Marshal(resp)
			if err != nil {
				log.L().Warn("marshal bridge response failed", zap.Error(err))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func serve(ctx context.Context, backend hostapi.Host, msg []byte) *Response {
	req := &Request{}
	if err := json.Unmarshal(msg, req); err != nil {
		return &Response{Error: "malformed request: " + err.Error()}
	}
	resp := &Response{ID: req.ID}
	result, err := dispatch(ctx, backend, req)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if resp.Result, err = json.Marshal(result); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func decode(req *Request, v interface{}) error {
	if len(req.Params) == 0 {
		return nil
	}
	return errors.Annotatef(json.Unmarshal(req.Params, v), "decode params of %s", req.Method)
}

func dispatch(ctx context.Context, backend hostapi.Host, req *Request) (interface{}, error) {
	switch req.Method {
	case MethodListHosts:
		return backend.ListHosts(ctx)
	case MethodFreeCapacity:
		var p hostParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return backend.FreeCapacity(ctx, p.Host)
	case MethodHackThreads:
		var p hackParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return backend.HackThreadsForValue(ctx, p.Target, p.Value)
	case MethodGrowThreads:
		var p growParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return backend.GrowThreadsForFactor(ctx, p.Target, p.Factor, p.Cores)
	case MethodDefense, MethodMinDefense, MethodMaxValue, MethodCurrentValue, MethodCores:
		var p targetParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return targetValue(ctx, backend, req.Method, p.Target)
	case MethodLaunch:
		var p launchParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		pid, err := backend.Launch(ctx, hostapi.LaunchRequest{
			Host:    p.Host,
			Kind:    p.Kind,
			Threads: p.Threads,
			Args: model.JobArgs{
				Target:  p.Target,
				Delay:   time.Duration(p.DelayMs) * time.Millisecond,
				BatchID: p.BatchID,
			},
		})
		return launchResult{PID: pid}, err
	case MethodCandidates, MethodPlayerLevel:
		s, ok := backend.(hostapi.Surveyor)
		if !ok {
			return nil, errors.Errorf("method %s is not supported", req.Method)
		}
		if req.Method == MethodCandidates {
			return s.Candidates(ctx)
		}
		return s.PlayerLevel(ctx)
	case MethodHackTime, MethodGrowTime, MethodWeakenTime:
		var p targetParams
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		return targetDuration(ctx, backend, req.Method, p.Target)
	case MethodThreadCosts:
		p, ok := backend.(hostapi.CostProvider)
		if !ok {
			return nil, errors.Errorf("method %s is not supported", req.Method)
		}
		return p.ThreadCosts(ctx)
	case MethodDefenseModel:
		p, ok := backend.(hostapi.DefenseModelProvider)
		if !ok {
			return nil, errors.Errorf("method %s is not supported", req.Method)
		}
		return p.DefenseModel(ctx)
	}
	return nil, errors.Errorf("unknown method %s", req.Method)
}

func targetValue(ctx context.Context, sim hostapi.Simulation, method string, target model.TargetID) (interface{}, error) {
	switch method {
	case MethodDefense:
		return sim.CurrentDefense(ctx, target)
	case MethodMinDefense:
		return sim.MinDefense(ctx, target)
	case MethodMaxValue:
		return sim.MaxValue(ctx, target)
	case MethodCurrentValue:
		return sim.CurrentValue(ctx, target)
	default:
		return sim.Cores(ctx, target)
	}
}

func targetDuration(ctx context.Context, backend hostapi.Host, method string, target model.TargetID) (interface{}, error) {
	timer, ok := backend.(hostapi.Timer)
	if !ok {
		return nil, errors.Errorf("method %s is not supported", method)
	}
	var (
		d   time.Duration
		err error
	)
	switch method {
	case MethodHackTime:
		d, err = timer.HackTime(ctx, target)
	case MethodGrowTime:
		d, err = timer.GrowTime(ctx, target)
	default:
		d, err = timer.WeakenTime(ctx, target)
	}
	return durationResult{Ms: d.Milliseconds()}, err
}
