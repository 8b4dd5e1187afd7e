package model

// Placement is a number of threads of one kind put on one host.
type Placement struct {
	Host    HostID    `json:"host"`
	Kind    JobKind   `json:"kind"`
	Threads int       `json:"threads"`
	PID     ProcessID `json:"pid,omitempty"`
}

// Allocation groups placements by job kind.
type Allocation map[JobKind][]Placement

// Placed returns the number of threads placed for kind.
func (a Allocation) Placed(kind JobKind) int {
	n := 0
	for _, p := range a[kind] {
		n += p.Threads
	}
	return n
}

// Outcome is the result of one scheduling cycle.
type Outcome string

const (
	// OutcomePlaced means every job kind was launched in full.
	OutcomePlaced Outcome = "placed"
	// OutcomePartial means a launch failed after the dry run passed.
	OutcomePartial Outcome = "partial"
	// OutcomeAbstained means no fraction down to the floor fits.
	OutcomeAbstained Outcome = "abstained"
	// OutcomeCanceled means the stop signal arrived during placement.
	OutcomeCanceled Outcome = "canceled"
)

// CycleReport is what one RunCycle hands back to its caller.
type CycleReport struct {
	Target       TargetID        `json:"target"`
	BatchID      string          `json:"batch_id"`
	Outcome      Outcome         `json:"outcome"`
	Plan         Plan            `json:"plan"`
	FractionUsed float64         `json:"fraction_used"`
	Searched     bool            `json:"searched"`
	Launched     map[JobKind]int `json:"launched"`
	Shortfall    map[JobKind]int `json:"shortfall"`
	Placements   []Placement     `json:"placements,omitempty"`
}

// FullyPlaced reports whether nothing is missing.
func (r *CycleReport) FullyPlaced() bool {
	return r.Outcome == OutcomePlaced
}

// TotalLaunched sums launched threads over all kinds.
func (r *CycleReport) TotalLaunched() int {
	n := 0
	for _, v := range r.Launched {
		n += v
	}
	return n
}

// TotalShortfall sums missing threads over all kinds.
func (r *CycleReport) TotalShortfall() int {
	n := 0
	for _, v := range r.Shortfall {
		n += v
	}
	return n
}
