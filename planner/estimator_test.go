package planner

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/hostapi"
)

const testTarget = "n00dles"

func newTestSimulation(state model.TargetState) *hostapi.MockSimulation {
	return &hostapi.MockSimulation{
		Targets: map[model.TargetID]*hostapi.MockTarget{
			testTarget: {
				State:     state,
				HackYield: 10,
				GrowScale: 100,
			},
		},
	}
}

func TestEstimatePlan(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		state    model.TargetState
		fraction float64
		expected model.Plan
	}{
		{
			name:     "at min defense",
			state:    model.TargetState{MaxValue: 1000, CurrentValue: 1000, Defense: 5, MinDefense: 5, Cores: 1},
			fraction: 0.1,
			expected: model.Plan{Hack: 10, Grow: 12, WeakenPre: 2, WeakenPost: 0, Steal: 100},
		},
		{
			name:     "defense drift",
			state:    model.TargetState{MaxValue: 1000, CurrentValue: 1000, Defense: 5.1, MinDefense: 5, Cores: 1},
			fraction: 0.1,
			expected: model.Plan{Hack: 10, Grow: 12, WeakenPre: 2, WeakenPost: 2, Steal: 100},
		},
		{
			name:     "steal limited by current value",
			state:    model.TargetState{MaxValue: 1000, CurrentValue: 50, Defense: 1, MinDefense: 1, Cores: 1},
			fraction: 0.5,
			expected: model.Plan{Hack: 5, Grow: 6, WeakenPre: 1, WeakenPost: 0, Steal: 50},
		},
		{
			name:     "empty target still hacks once",
			state:    model.TargetState{MaxValue: 1000, CurrentValue: 0, Defense: 1, MinDefense: 1, Cores: 1},
			fraction: 0.5,
			expected: model.Plan{Hack: 1, Grow: 1, WeakenPre: 1, WeakenPost: 0, Steal: 1},
		},
		{
			name:     "cores reduce grow threads",
			state:    model.TargetState{MaxValue: 1000, CurrentValue: 1000, Defense: 5, MinDefense: 5, Cores: 4},
			fraction: 0.1,
			expected: model.Plan{Hack: 10, Grow: 3, WeakenPre: 1, WeakenPost: 0, Steal: 100},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			est := NewEstimator(newTestSimulation(tc.state), hostapi.DefaultDefenseModel())
			plan := est.EstimateFor(context.Background(), testTarget, tc.fraction)
			require.Equal(t, tc.expected.Hack, plan.Hack)
			require.Equal(t, tc.expected.Grow, plan.Grow)
			require.Equal(t, tc.expected.WeakenPre, plan.WeakenPre)
			require.Equal(t, tc.expected.WeakenPost, plan.WeakenPost)
			require.InDelta(t, tc.expected.Steal, plan.Steal, 1e-9)
			require.False(t, plan.Fallback)
		})
	}
}

func TestEstimateFallsBackOnSimulationError(t *testing.T) {
	t.Parallel()

	sim := newTestSimulation(model.TargetState{MaxValue: 1000, CurrentValue: 1000})
	sim.Err = errors.New("target went away")
	est := NewEstimator(sim, hostapi.DefenseModel{})

	plan := est.EstimateFor(context.Background(), testTarget, 0.5)
	require.Equal(t, model.SafePlan(), plan)

	// unknown target
	sim.Err = nil
	plan = est.EstimateFor(context.Background(), "unknown", 0.5)
	require.True(t, plan.Fallback)
	require.Equal(t, 1, plan.Hack)
	require.Equal(t, 1, plan.WeakenPre)
}

type nanSimulation struct {
	*hostapi.MockSimulation
}

func (s nanSimulation) HackThreadsForValue(context.Context, model.TargetID, float64) (float64, error) {
	return math.NaN(), nil
}

func TestEstimateFallsBackOnInvalidEstimate(t *testing.T) {
	t.Parallel()

	sim := nanSimulation{newTestSimulation(model.TargetState{MaxValue: 1000, CurrentValue: 1000, Cores: 1})}
	est := NewEstimator(sim, hostapi.DefaultDefenseModel())
	plan := est.EstimateFor(context.Background(), testTarget, 0.5)
	require.Equal(t, model.SafePlan(), plan)
}

func TestEstimatorDefaultsZeroDefenseModel(t *testing.T) {
	t.Parallel()

	est := NewEstimator(newTestSimulation(model.TargetState{}), hostapi.DefenseModel{GrowCost: 0.01})
	require.Equal(t, hostapi.DefenseModel{HackCost: 0.002, GrowCost: 0.01, WeakenReduction: 0.05}, est.DefenseModel())
}

func genState() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(1, 1e9),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 50),
		gen.IntRange(1, 8),
	).Map(func(values []interface{}) model.TargetState {
		maxValue := values[0].(float64)
		return model.TargetState{
			MaxValue:     maxValue,
			CurrentValue: maxValue * values[1].(float64),
			Defense:      5 + values[2].(float64),
			MinDefense:   5,
			Cores:        values[3].(int),
		}
	})
}

func TestEstimatorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	estimate := func(state model.TargetState, f float64) model.Plan {
		sim := &hostapi.MockSimulation{
			Targets: map[model.TargetID]*hostapi.MockTarget{
				testTarget: {State: state, HackYield: 1000, GrowScale: 100},
			},
		}
		return NewEstimator(sim, hostapi.DefaultDefenseModel()).EstimateFor(context.Background(), testTarget, f)
	}

	properties.Property("hack threads are at least one", prop.ForAll(
		func(state model.TargetState, f float64) bool {
			return estimate(state, f).Hack >= 1
		},
		genState(),
		gen.Float64Range(0.0005, 1),
	))

	properties.Property("raising the fraction never lowers hack or grow threads", prop.ForAll(
		func(state model.TargetState, f1, f2 float64) bool {
			lo, hi := math.Min(f1, f2), math.Max(f1, f2)
			planLo, planHi := estimate(state, lo), estimate(state, hi)
			return planLo.Hack <= planHi.Hack && planLo.Grow <= planHi.Grow
		},
		genState(),
		gen.Float64Range(0.0005, 1),
		gen.Float64Range(0.0005, 1),
	))

	properties.Property("weaken threads cover the batch", prop.ForAll(
		func(state model.TargetState, f float64) bool {
			plan := estimate(state, f)
			gain := float64(plan.Hack)*0.002 + float64(plan.Grow)*0.004
			return plan.WeakenPre >= 1 && float64(plan.WeakenPre)*0.05 >= gain*(1-1e-9)-1e-9
		},
		genState(),
		gen.Float64Range(0.0005, 1),
	))

	properties.TestingRun(t)
}
