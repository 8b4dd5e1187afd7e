package scheduler

import (
	"context"
	"time"

	"github.com/hanfei1991/batcher/model"
)

// landingDelays staggers the start of each job so the batch finishes in
// priority order, LandingSpacing apart. Without a timer every delay is zero.
func (s *Scheduler) landingDelays(ctx context.Context, target model.TargetID) map[model.JobKind]time.Duration {
	if s.timer == nil {
		return nil
	}
	hackTime, err := s.timer.HackTime(ctx, target)
	if err != nil {
		return nil
	}
	growTime, err := s.timer.GrowTime(ctx, target)
	if err != nil {
		return nil
	}
	weakenTime, err := s.timer.WeakenTime(ctx, target)
	if err != nil {
		return nil
	}
	durations := map[model.JobKind]time.Duration{
		model.JobWeakenPost: weakenTime,
		model.JobHack:       hackTime,
		model.JobGrow:       growTime,
		model.JobWeakenPre:  weakenTime,
	}
	return computeDelays(durations, s.cfg.LandingSpacing.Duration)
}

func computeDelays(durations map[model.JobKind]time.Duration, spacing time.Duration) map[model.JobKind]time.Duration {
	var longest time.Duration
	for _, d := range durations {
		if d > longest {
			longest = d
		}
	}
	ret := make(map[model.JobKind]time.Duration, len(durations))
	for i, kind := range model.AllJobKinds {
		land := longest + time.Duration(i)*spacing
		d := land - durations[kind]
		if d < 0 {
			d = 0
		}
		ret[kind] = d
	}
	return ret
}
