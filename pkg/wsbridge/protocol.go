package wsbridge

import (
	"encoding/json"

	"github.com/hanfei1991/batcher/model"
)

// Methods a bridge serves. The in-game side answers them with the
// matching ns calls.
const (
	MethodListHosts    = "listHosts"
	MethodFreeCapacity = "freeCapacity"
	MethodHackThreads  = "hackThreads"
	MethodGrowThreads  = "growThreads"
	MethodDefense      = "defense"
	MethodMinDefense   = "minDefense"
	MethodMaxValue     = "maxValue"
	MethodCurrentValue = "currentValue"
	MethodCores        = "cores"
	MethodLaunch       = "launch"
	MethodCandidates   = "candidates"
	MethodPlayerLevel  = "playerLevel"
	MethodHackTime     = "hackTime"
	MethodGrowTime     = "growTime"
	MethodWeakenTime   = "weakenTime"
	MethodThreadCosts  = "threadCosts"
	MethodDefenseModel = "defenseModel"
)

// Request is one call sent to the bridge.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID. Error is set when the
// call failed on the bridge side.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type hostParams struct {
	Host model.HostID `json:"host"`
}

type targetParams struct {
	Target model.TargetID `json:"target"`
}

type hackParams struct {
	Target model.TargetID `json:"target"`
	Value  float64        `json:"value"`
}

type growParams struct {
	Target model.TargetID `json:"target"`
	Factor float64        `json:"factor"`
	Cores  int            `json:"cores"`
}

// launchParams mirrors the argument list of the workload scripts:
// target, delay in milliseconds, batch id.
type launchParams struct {
	Host    model.HostID   `json:"host"`
	Kind    model.JobKind  `json:"kind"`
	Threads int            `json:"threads"`
	Target  model.TargetID `json:"target"`
	DelayMs int64          `json:"delay_ms"`
	BatchID string         `json:"batch_id"`
}

type launchResult struct {
	PID model.ProcessID `json:"pid"`
}

// durations travel as milliseconds
type durationResult struct {
	Ms int64 `json:"ms"`
}
