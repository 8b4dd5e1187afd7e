package planner

import (
	"context"
	"math"

	"github.com/pingcap/errors"

	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/hostapi"
)

// thread estimates within ceilEpsilon of an integer are rounded down, so
// float noise such as 2.0000000000000004 does not cost an extra thread.
const ceilEpsilon = 1e-9

// Estimator translates an extraction fraction into a thread plan against a
// target's simulated state.
type Estimator struct {
	sim     hostapi.Simulation
	defense hostapi.DefenseModel
}

// NewEstimator creates an Estimator. Zero fields of defense fall back to
// hostapi.DefaultDefenseModel.
func NewEstimator(sim hostapi.Simulation, defense hostapi.DefenseModel) *Estimator {
	def := hostapi.DefaultDefenseModel()
	if defense.HackCost <= 0 {
		defense.HackCost = def.HackCost
	}
	if defense.GrowCost <= 0 {
		defense.GrowCost = def.GrowCost
	}
	if defense.WeakenReduction <= 0 {
		defense.WeakenReduction = def.WeakenReduction
	}
	return &Estimator{sim: sim, defense: defense}
}

// DefenseModel returns the per-thread deltas the estimator uses.
func (e *Estimator) DefenseModel() hostapi.DefenseModel {
	return e.defense
}

// Snapshot reads the current state of target.
func (e *Estimator) Snapshot(ctx context.Context, target model.TargetID) (model.TargetState, error) {
	var (
		st  model.TargetState
		err error
	)
	if st.MaxValue, err = e.sim.MaxValue(ctx, target); err != nil {
		return st, errors.Trace(err)
	}
	if st.CurrentValue, err = e.sim.CurrentValue(ctx, target); err != nil {
		return st, errors.Trace(err)
	}
	if st.Defense, err = e.sim.CurrentDefense(ctx, target); err != nil {
		return st, errors.Trace(err)
	}
	if st.MinDefense, err = e.sim.MinDefense(ctx, target); err != nil {
		return st, errors.Trace(err)
	}
	if st.Cores, err = e.sim.Cores(ctx, target); err != nil {
		return st, errors.Trace(err)
	}
	for _, v := range []float64{st.MaxValue, st.CurrentValue, st.Defense, st.MinDefense} {
		if !finite(v) {
			return st, errors.Errorf("target %s reported a non-finite state", target)
		}
	}
	return st, nil
}

// Estimate computes the plan for fraction against state. It never fails:
// if the simulation cannot answer, the minimal safe plan is returned.
func (e *Estimator) Estimate(
	ctx context.Context,
	target model.TargetID,
	state model.TargetState,
	fraction float64,
) model.Plan {
	plan, err := e.estimate(ctx, target, state, fraction)
	if err != nil {
		return model.SafePlan()
	}
	return plan
}

// EstimateFor reads the target state and estimates in one go.
func (e *Estimator) EstimateFor(ctx context.Context, target model.TargetID, fraction float64) model.Plan {
	state, err := e.Snapshot(ctx, target)
	if err != nil {
		return model.SafePlan()
	}
	return e.Estimate(ctx, target, state, fraction)
}

func (e *Estimator) estimate(
	ctx context.Context,
	target model.TargetID,
	state model.TargetState,
	fraction float64,
) (model.Plan, error) {
	fraction = math.Max(0, math.Min(1, fraction))
	currentValue := math.Max(1, state.CurrentValue)
	steal := math.Max(1, math.Min(state.MaxValue*fraction, currentValue))

	hackRaw, err := e.sim.HackThreadsForValue(ctx, target, steal)
	if err != nil {
		return model.Plan{}, errors.Trace(err)
	}
	if !finite(hackRaw) || hackRaw < 0 {
		return model.Plan{}, errors.Errorf("invalid hack estimate %f", hackRaw)
	}
	hackThreads := maxInt(1, ceilThreads(hackRaw))

	postValue := math.Max(1, state.MaxValue-steal)
	growthFactor := math.Max(1, state.MaxValue/postValue)
	cores := state.Cores
	if cores < 1 {
		cores = 1
	}
	growRaw, err := e.sim.GrowThreadsForFactor(ctx, target, growthFactor, cores)
	if err != nil {
		return model.Plan{}, errors.Trace(err)
	}
	if !finite(growRaw) {
		return model.Plan{}, errors.Errorf("invalid grow estimate %f", growRaw)
	}
	growThreads := maxInt(0, ceilThreads(growRaw))

	secGain := float64(hackThreads)*e.defense.HackCost + float64(growThreads)*e.defense.GrowCost
	weakenPre := maxInt(1, ceilThreads(secGain/e.defense.WeakenReduction))
	weakenPost := maxInt(0, ceilThreads((state.Defense-state.MinDefense)/e.defense.WeakenReduction))

	return model.Plan{
		Hack:       hackThreads,
		Grow:       growThreads,
		WeakenPre:  weakenPre,
		WeakenPost: weakenPost,
		Steal:      steal,
	}, nil
}

func ceilThreads(x float64) int {
	return int(math.Ceil(x - ceilEpsilon))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
