package scheduler

import (
	"github.com/hanfei1991/batcher/lib/config"
)

// FitFunc reports whether the plan for a fraction can be placed.
type FitFunc func(fraction float64) bool

// FractionSearcher looks for the largest fraction in [floor, base] whose
// plan fits. It is only asked after base itself did not fit.
type FractionSearcher interface {
	// Search returns the chosen fraction and whether it was verified to fit.
	Search(base, floor float64, fits FitFunc) (float64, bool)

	// Name returns the strategy name.
	Name() string
}

// NewFractionSearcher builds the searcher selected by cfg.Strategy.
func NewFractionSearcher(cfg config.SchedulerConfig) FractionSearcher {
	if cfg.Strategy == config.StrategyGeometric {
		return &GeometricShrink{Factor: cfg.ShrinkFactor, MaxIterations: cfg.ShrinkMaxIter}
	}
	return &BinarySearch{Rounds: cfg.SearchRounds, Tolerance: cfg.SearchTolerance}
}

// BinarySearch bisects [floor, base] for a fixed number of rounds. The
// floor is probed first so the answer is always a fraction that was
// verified to fit.
type BinarySearch struct {
	Rounds    int
	Tolerance float64
}

// Name implements FractionSearcher.
func (s *BinarySearch) Name() string {
	return config.StrategyBinary
}

// Search implements FractionSearcher.
func (s *BinarySearch) Search(base, floor float64, fits FitFunc) (float64, bool) {
	if !fits(floor) {
		return floor, false
	}
	best, low, high := floor, floor, base
	for round := 0; round < s.Rounds; round++ {
		if high-low <= s.Tolerance {
			break
		}
		mid := low + (high-low)/2
		if fits(mid) {
			if mid > best {
				best = mid
			}
			low = mid
		} else {
			high = mid
		}
	}
	return best, true
}

// GeometricShrink multiplies the fraction by Factor until it fits, the
// floor is reached or MaxIterations runs out. It is kept as a baseline for
// BinarySearch, which finds a larger fraction at the same cost.
type GeometricShrink struct {
	Factor        float64
	MaxIterations int
}

// Name implements FractionSearcher.
func (s *GeometricShrink) Name() string {
	return config.StrategyGeometric
}

// Search implements FractionSearcher.
func (s *GeometricShrink) Search(base, floor float64, fits FitFunc) (float64, bool) {
	fraction := base
	if fraction <= floor {
		return floor, fits(floor)
	}
	for iter := 0; iter < s.MaxIterations && fraction > floor; iter++ {
		fraction = fraction * s.Factor
		if fraction < floor {
			fraction = floor
		}
		if fits(fraction) {
			return fraction, true
		}
	}
	return fraction, false
}
