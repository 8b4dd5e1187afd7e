package model

import "time"

// JobKind is the kind of workload a job launches.
type JobKind string

const (
	JobHack       JobKind = "hack"
	JobGrow       JobKind = "grow"
	JobWeakenPre  JobKind = "weakenPre"
	JobWeakenPost JobKind = "weakenPost"
)

// AllJobKinds lists every kind in placement priority order. The stabilizing
// kind goes first so pre-existing defense drift is corrected before the
// batch lands.
var AllJobKinds = []JobKind{JobWeakenPost, JobHack, JobGrow, JobWeakenPre}

// ProcessID is the handle returned by a successful launch. Zero means the
// host refused the launch.
type ProcessID int

// CostTable maps a job kind to the capacity one thread of it occupies.
type CostTable map[JobKind]CapacityUnit

// UniformCostTable returns a table charging cost for every kind.
func UniformCostTable(cost CapacityUnit) CostTable {
	ret := make(CostTable, len(AllJobKinds))
	for _, kind := range AllJobKinds {
		ret[kind] = cost
	}
	return ret
}

// Job is a request to run Threads threads of one kind.
type Job struct {
	Kind          JobKind
	Threads       int
	CostPerThread CapacityUnit
	Args          JobArgs
}

// Cost is the capacity the whole job needs.
func (j Job) Cost() CapacityUnit {
	return CapacityUnit(j.Threads) * j.CostPerThread
}

// JobArgs are handed to the launched workload in this order.
type JobArgs struct {
	Target  TargetID
	Delay   time.Duration
	BatchID string
}

// Slice returns the positional argument list of the workload script.
func (a JobArgs) Slice() []interface{} {
	return []interface{}{a.Target, a.Delay.Milliseconds(), a.BatchID}
}

// Plan is the thread count required per job kind for one batch.
type Plan struct {
	Hack       int `json:"hack"`
	Grow       int `json:"grow"`
	WeakenPre  int `json:"weaken_pre"`
	WeakenPost int `json:"weaken_post"`

	// Steal is the value the plan tries to extract.
	Steal float64 `json:"steal"`
	// Fallback is set when the estimate could not be computed and the
	// minimal safe plan was returned instead.
	Fallback bool `json:"fallback"`
}

// SafePlan is the plan used when estimation fails.
func SafePlan() Plan {
	return Plan{Hack: 1, Grow: 0, WeakenPre: 1, WeakenPost: 0, Steal: 1, Fallback: true}
}

// Threads returns the thread count for kind.
func (p Plan) Threads(kind JobKind) int {
	switch kind {
	case JobHack:
		return p.Hack
	case JobGrow:
		return p.Grow
	case JobWeakenPre:
		return p.WeakenPre
	case JobWeakenPost:
		return p.WeakenPost
	}
	return 0
}

// Counts returns the plan as a kind to threads map, omitting zero entries.
func (p Plan) Counts() map[JobKind]int {
	ret := make(map[JobKind]int, len(AllJobKinds))
	for _, kind := range AllJobKinds {
		if n := p.Threads(kind); n > 0 {
			ret[kind] = n
		}
	}
	return ret
}

// Cost returns the total capacity the plan needs under costs.
func (p Plan) Cost(costs CostTable) CapacityUnit {
	var total CapacityUnit
	for _, kind := range AllJobKinds {
		total += CapacityUnit(p.Threads(kind)) * costs[kind]
	}
	return total
}
