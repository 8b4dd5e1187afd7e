package hostapi

import (
	"context"
	"time"

	"github.com/hanfei1991/batcher/model"
)

// Inventory describes an object providing capacity info for each host.
type Inventory interface {
	// ListHosts returns every host the agent may place work on, in the
	// order the host runtime reports them.
	ListHosts(ctx context.Context) (model.HostSnapshot, error)

	// FreeCapacity returns the current free capacity of a host.
	FreeCapacity(ctx context.Context, host model.HostID) (model.CapacityUnit, error)
}

// Simulation exposes the host's yield and defense model for a target.
type Simulation interface {
	HackThreadsForValue(ctx context.Context, target model.TargetID, value float64) (float64, error)
	GrowThreadsForFactor(ctx context.Context, target model.TargetID, factor float64, cores int) (float64, error)
	CurrentDefense(ctx context.Context, target model.TargetID) (float64, error)
	MinDefense(ctx context.Context, target model.TargetID) (float64, error)
	MaxValue(ctx context.Context, target model.TargetID) (float64, error)
	CurrentValue(ctx context.Context, target model.TargetID) (float64, error)
	Cores(ctx context.Context, target model.TargetID) (int, error)
}

// LaunchRequest asks the host to start a workload.
type LaunchRequest struct {
	Host    model.HostID
	Kind    model.JobKind
	Threads int
	Args    model.JobArgs
}

// Execution starts workloads. A launch the host refuses returns a zero
// ProcessID or an error; it never panics.
type Execution interface {
	Launch(ctx context.Context, req LaunchRequest) (model.ProcessID, error)
}

// Surveyor is optionally implemented by a Simulation that can enumerate
// candidate targets.
type Surveyor interface {
	Candidates(ctx context.Context) ([]model.TargetInfo, error)
	PlayerLevel(ctx context.Context) (int, error)
}

// Timer is optionally implemented by a Simulation that knows how long each
// workload kind runs against a target.
type Timer interface {
	HackTime(ctx context.Context, target model.TargetID) (time.Duration, error)
	GrowTime(ctx context.Context, target model.TargetID) (time.Duration, error)
	WeakenTime(ctx context.Context, target model.TargetID) (time.Duration, error)
}

// CostProvider is optionally implemented by an Execution that reports the
// per-thread capacity cost of each workload kind.
type CostProvider interface {
	ThreadCosts(ctx context.Context) (model.CostTable, error)
}

// DefenseModel holds the per-thread defense deltas of the host simulation.
// They mirror the host's internal constants and must be kept in sync with it.
type DefenseModel struct {
	HackCost        float64 `toml:"hack-cost" json:"hack_cost" yaml:"hack_cost"`
	GrowCost        float64 `toml:"grow-cost" json:"grow_cost" yaml:"grow_cost"`
	WeakenReduction float64 `toml:"weaken-reduction" json:"weaken_reduction" yaml:"weaken_reduction"`
}

// DefaultDefenseModel returns the deltas known from the host.
func DefaultDefenseModel() DefenseModel {
	return DefenseModel{
		HackCost:        0.002,
		GrowCost:        0.004,
		WeakenReduction: 0.05,
	}
}

// DefenseModelProvider is optionally implemented by a Simulation that
// exposes its defense deltas directly.
type DefenseModelProvider interface {
	DefenseModel(ctx context.Context) (DefenseModel, error)
}

// Host bundles the capability groups one host runtime provides.
type Host interface {
	Inventory
	Simulation
	Execution
}
