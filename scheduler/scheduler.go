package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/hostapi"
	"github.com/hanfei1991/batcher/planner"
)

// Scheduler fits a batch into the free capacity of the hosts, shrinking the
// extraction fraction when it does not fit, and launches it. All state is
// local to one RunCycle call.
type Scheduler struct {
	cfg       config.SchedulerConfig
	estimator *planner.Estimator
	packer    *Packer
	searcher  FractionSearcher
	sim       hostapi.Simulation
	exec      hostapi.Execution
	timer     hostapi.Timer
	costs     model.CostTable
}

// NewScheduler creates a Scheduler. If sim also implements hostapi.Timer,
// batches get landing delays.
func NewScheduler(
	cfg config.SchedulerConfig,
	sim hostapi.Simulation,
	exec hostapi.Execution,
) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		estimator: planner.NewEstimator(sim, cfg.Defense),
		packer:    NewPacker(cfg),
		searcher:  NewFractionSearcher(cfg),
		sim:       sim,
		exec:      exec,
		costs:     cfg.Costs(),
	}
	if timer, ok := sim.(hostapi.Timer); ok {
		s.timer = timer
	}
	return s
}

// SetCosts replaces the per-thread cost table, e.g. with values reported
// by the host.
func (s *Scheduler) SetCosts(costs model.CostTable) {
	merged := s.cfg.Costs()
	for kind, cost := range costs {
		if cost > 0 {
			merged[kind] = cost
		}
	}
	s.costs = merged
}

// SetDefenseModel replaces the per-thread defense deltas used to size the
// weaken jobs.
func (s *Scheduler) SetDefenseModel(defense hostapi.DefenseModel) {
	s.estimator = planner.NewEstimator(s.sim, defense)
}

// Costs returns the per-thread cost table in use.
func (s *Scheduler) Costs() model.CostTable {
	return s.costs
}

// Searcher returns the fraction search strategy in use.
func (s *Scheduler) Searcher() FractionSearcher {
	return s.searcher
}

// Estimator returns the plan estimator.
func (s *Scheduler) Estimator() *planner.Estimator {
	return s.estimator
}

// RunCycle runs one scheduling cycle against target:
// estimate, check the fit, search a smaller fraction if needed, then
// either place the batch or abstain. It never fails; problems show up as
// shortfall in the report.
func (s *Scheduler) RunCycle(
	ctx context.Context,
	target model.TargetID,
	baseFraction float64,
	hosts model.HostSnapshot,
) *model.CycleReport {
	report := &model.CycleReport{
		Target:    target,
		BatchID:   uuid.New().String(),
		Launched:  make(map[model.JobKind]int),
		Shortfall: make(map[model.JobKind]int),
	}

	floor := s.cfg.FloorFraction
	base := clampFraction(baseFraction, floor)

	state, err := s.estimator.Snapshot(ctx, target)
	planAt := func(fraction float64) model.Plan {
		if err != nil {
			return model.SafePlan()
		}
		return s.estimator.Estimate(ctx, target, state, fraction)
	}
	fits := func(fraction float64) bool {
		return s.packer.Fits(s.jobs(planAt(fraction), model.JobArgs{Target: target}, nil), hosts)
	}

	fraction := base
	if !fits(base) {
		report.Searched = true
		found, ok := s.searcher.Search(base, floor, fits)
		if !ok {
			plan := planAt(floor)
			report.Outcome = model.OutcomeAbstained
			report.Plan = plan
			report.FractionUsed = floor
			for kind, threads := range plan.Counts() {
				report.Shortfall[kind] = threads
			}
			return report
		}
		fraction = found
	}

	plan := planAt(fraction)
	report.Plan = plan
	report.FractionUsed = fraction

	args := model.JobArgs{Target: target, BatchID: report.BatchID}
	jobs := s.jobs(plan, args, s.landingDelays(ctx, target))
	alloc, shortfall, canceled := s.packer.Place(ctx, jobs, hosts, s.launch)

	for _, kind := range model.AllJobKinds {
		if n := alloc.Placed(kind); n > 0 {
			report.Launched[kind] = n
		}
		report.Placements = append(report.Placements, alloc[kind]...)
	}
	for kind, n := range shortfall {
		report.Shortfall[kind] = n
	}

	switch {
	case canceled:
		report.Outcome = model.OutcomeCanceled
	case len(shortfall) > 0:
		report.Outcome = model.OutcomePartial
	default:
		report.Outcome = model.OutcomePlaced
	}
	return report
}

// Preview estimates the plan for fraction and packs it into hosts without
// launching anything.
func (s *Scheduler) Preview(
	ctx context.Context,
	target model.TargetID,
	fraction float64,
	hosts model.HostSnapshot,
) (model.Plan, model.Allocation, map[model.JobKind]int) {
	plan := s.estimator.EstimateFor(ctx, target, clampFraction(fraction, s.cfg.FloorFraction))
	alloc, shortfall := s.packer.DryRun(s.jobs(plan, model.JobArgs{Target: target}, nil), hosts)
	return plan, alloc, shortfall
}

func (s *Scheduler) launch(
	ctx context.Context,
	host model.HostID,
	job model.Job,
	threads int,
) (model.ProcessID, bool) {
	pid, err := s.exec.Launch(ctx, hostapi.LaunchRequest{
		Host:    host,
		Kind:    job.Kind,
		Threads: threads,
		Args:    job.Args,
	})
	if err != nil || pid == 0 {
		return 0, false
	}
	return pid, true
}

// jobs turns plan into jobs in placement priority order. Zero-thread kinds
// are left out.
func (s *Scheduler) jobs(
	plan model.Plan,
	args model.JobArgs,
	delays map[model.JobKind]time.Duration,
) []model.Job {
	ret := make([]model.Job, 0, len(model.AllJobKinds))
	for _, kind := range model.AllJobKinds {
		threads := plan.Threads(kind)
		if threads <= 0 {
			continue
		}
		jobArgs := args
		jobArgs.Delay = delays[kind]
		ret = append(ret, model.Job{
			Kind:          kind,
			Threads:       threads,
			CostPerThread: s.costs[kind],
			Args:          jobArgs,
		})
	}
	return ret
}

func clampFraction(fraction, floor float64) float64 {
	if fraction > 1 {
		fraction = 1
	}
	if fraction < floor {
		fraction = floor
	}
	return fraction
}
