package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/clock"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
	"github.com/hanfei1991/batcher/pkg/hostapi"
	"github.com/hanfei1991/batcher/pkg/logutil"
	"github.com/hanfei1991/batcher/pkg/promutil"
	"github.com/hanfei1991/batcher/scheduler"
)

// Recorder keeps the reports of finished cycles.
type Recorder interface {
	Record(ctx context.Context, report *model.CycleReport) error
}

// Option customizes a Driver.
type Option func(d *Driver)

// WithClock sets the clock the driver sleeps on.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) {
		d.clock = c
	}
}

// WithRecorder sets where cycle reports are recorded.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) {
		d.recorder = r
	}
}

// WithFactory sets the factory the driver metrics are created with.
func WithFactory(f promutil.Factory) Option {
	return func(d *Driver) {
		d.factory = f
	}
}

// Driver runs scheduling passes in a loop until its context ends. A pass
// runs one cycle per target. Nothing a cycle reports stops the loop.
type Driver struct {
	cfg      config.DriverConfig
	schedCfg config.SchedulerConfig
	host     hostapi.Host
	sched    *scheduler.Scheduler

	clock    clock.Clock
	recorder Recorder
	factory  promutil.Factory
	metrics  *metrics

	paused     atomic.Bool
	resumeCh   chan struct{}
	iterations atomic.Int64

	mu   sync.RWMutex
	last map[model.TargetID]*model.CycleReport
}

// NewDriver creates a Driver scheduling against host.
func NewDriver(cfg *config.Config, host hostapi.Host, opts ...Option) *Driver {
	d := &Driver{
		cfg:      cfg.Driver,
		schedCfg: cfg.Scheduler,
		host:     host,
		sched:    scheduler.NewScheduler(cfg.Scheduler, host, host),
		clock:    clock.New(),
		resumeCh: make(chan struct{}, 1),
		last:     make(map[model.TargetID]*model.CycleReport),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.factory == nil {
		d.factory = promutil.NewFactory(promutil.NewRegistry(), "", nil)
	}
	d.metrics = newMetrics(d.factory)
	return d
}

// Scheduler returns the scheduler the driver runs cycles with.
func (d *Driver) Scheduler() *scheduler.Scheduler {
	return d.sched
}

// Run loops until ctx is done. After a pass where every target was placed
// the next one starts after NormalInterval, otherwise after RetryInterval.
func (d *Driver) Run(ctx context.Context) error {
	log.L().Info("driver started",
		zap.Strings("targets", d.cfg.Targets),
		zap.String("strategy", d.sched.Searcher().Name()),
		zap.Float64("base-fraction", d.schedCfg.BaseFraction))

	for {
		if d.paused.Load() {
			select {
			case <-ctx.Done():
				log.L().Info("exit driver run")
				return nil
			case <-d.resumeCh:
			}
			continue
		}

		interval := d.cfg.RetryInterval.Duration
		allPlaced, err := d.RunOnce(ctx)
		if err != nil {
			log.L().Warn("scheduling pass failed", logutil.ShortError(err))
		} else if allPlaced {
			interval = d.cfg.NormalInterval.Duration
		}
		if !d.sleep(ctx, interval) {
			log.L().Info("exit driver run")
			return nil
		}
	}
}

// RunOnce runs one pass over the targets and reports whether every one of
// them was placed in full.
func (d *Driver) RunOnce(ctx context.Context) (bool, error) {
	d.iterations.Inc()
	d.refreshHostModels(ctx)

	targets, err := d.Targets(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}

	allPlaced := true
	for i, target := range targets {
		if i > 0 && !d.sleep(ctx, d.cfg.TargetInterval.Duration) {
			return false, nil
		}
		if ctx.Err() != nil || d.paused.Load() {
			return false, nil
		}
		hosts, err := d.WorkerHosts(ctx)
		if err != nil {
			return false, errors.Trace(err)
		}
		report := d.runCycle(ctx, target, hosts)
		if !report.FullyPlaced() {
			allPlaced = false
		}
	}
	return allPlaced, nil
}

func (d *Driver) runCycle(ctx context.Context, target model.TargetID, hosts model.HostSnapshot) *model.CycleReport {
	start := d.clock.Now()
	report := d.sched.RunCycle(ctx, target, d.schedCfg.BaseFraction, hosts)
	d.metrics.observe(report, d.clock.Since(start))

	fields := []zap.Field{
		zap.String("target", report.Target),
		zap.String("batch-id", report.BatchID),
		zap.Float64("fraction", report.FractionUsed),
		zap.Any("launched", report.Launched),
	}
	switch report.Outcome {
	case model.OutcomePlaced:
		log.L().Info("batch placed", fields...)
	case model.OutcomePartial:
		log.L().Warn("batch partially placed", append(fields, zap.Any("shortfall", report.Shortfall))...)
	case model.OutcomeAbstained:
		log.L().Info("not enough capacity for the smallest batch",
			append(fields, zap.Any("shortfall", report.Shortfall))...)
	case model.OutcomeCanceled:
		log.L().Info("batch canceled", fields...)
	}
	if report.Plan.Fallback {
		log.L().Warn("plan estimation failed, used the minimal plan", zap.String("target", target))
	}

	if d.recorder != nil {
		if err := d.recorder.Record(context.WithoutCancel(ctx), report); err != nil {
			log.L().Warn("record cycle report failed", zap.String("target", target), logutil.ShortError(err))
		}
	}

	d.mu.Lock()
	d.last[target] = report
	d.mu.Unlock()
	return report
}

// Preview is the dry run of one cycle for target at fraction. It sees the
// same hosts and host models a real cycle would and launches nothing.
func (d *Driver) Preview(ctx context.Context, target model.TargetID, fraction float64) (*PreviewResult, error) {
	d.refreshHostModels(ctx)
	hosts, err := d.WorkerHosts(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	plan, alloc, shortfall := d.sched.Preview(ctx, target, fraction, hosts)
	return &PreviewResult{
		Target:    target,
		Fraction:  fraction,
		Plan:      plan,
		Cost:      plan.Cost(d.sched.Costs()),
		FreeTotal: hosts.TotalFree(),
		Fits:      len(shortfall) == 0,
		Placed:    alloc,
		Shortfall: shortfall,
	}, nil
}

// PreviewResult is what Preview found.
type PreviewResult struct {
	Target    model.TargetID        `json:"target"`
	Fraction  float64               `json:"fraction"`
	Plan      model.Plan            `json:"plan"`
	Cost      model.CapacityUnit    `json:"cost"`
	FreeTotal model.CapacityUnit    `json:"free_total"`
	Fits      bool                  `json:"fits"`
	Placed    model.Allocation      `json:"placed"`
	Shortfall map[model.JobKind]int `json:"shortfall,omitempty"`
}

// WorkerHosts lists the hosts big enough to run workloads.
func (d *Driver) WorkerHosts(ctx context.Context) (model.HostSnapshot, error) {
	hosts, err := d.host.ListHosts(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ret := make(model.HostSnapshot, 0, len(hosts))
	for _, h := range hosts {
		if h.MaxCapacity >= d.cfg.MinHostCapacity {
			ret = append(ret, h)
		}
	}
	return ret, nil
}

// Targets returns the configured targets, or asks the host for the best
// ones when none are configured.
func (d *Driver) Targets(ctx context.Context) ([]model.TargetID, error) {
	if len(d.cfg.Targets) > 0 {
		return d.cfg.Targets, nil
	}
	surveyor, ok := d.host.(hostapi.Surveyor)
	if !ok {
		return nil, derrors.ErrNoTarget.GenWithStackByArgs()
	}
	candidates, err := surveyor.Candidates(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	level, err := surveyor.PlayerLevel(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	targets := SelectTargets(candidates, level, d.cfg.TargetCount)
	if len(targets) == 0 {
		return nil, derrors.ErrNoTarget.GenWithStackByArgs()
	}
	return targets, nil
}

// refreshHostModels picks up thread costs and defense deltas the host
// reports about itself. Failures keep the configured values.
func (d *Driver) refreshHostModels(ctx context.Context) {
	if p, ok := d.host.(hostapi.CostProvider); ok {
		costs, err := p.ThreadCosts(ctx)
		if err != nil {
			log.L().Warn("read thread costs failed", logutil.ShortError(err))
		} else {
			d.sched.SetCosts(costs)
		}
	}
	if p, ok := d.host.(hostapi.DefenseModelProvider); ok {
		defense, err := p.DefenseModel(ctx)
		if err != nil {
			log.L().Warn("read defense model failed", logutil.ShortError(err))
		} else {
			d.sched.SetDefenseModel(defense)
		}
	}
}

// Pause stops new cycles from starting until Resume is called. A cycle in
// flight finishes.
func (d *Driver) Pause() {
	if d.paused.CAS(false, true) {
		d.metrics.paused.Set(1)
		log.L().Info("driver paused")
	}
}

// Resume undoes Pause.
func (d *Driver) Resume() {
	if d.paused.CAS(true, false) {
		d.metrics.paused.Set(0)
		log.L().Info("driver resumed")
	}
	select {
	case d.resumeCh <- struct{}{}:
	default:
	}
}

// Paused reports whether the driver is paused.
func (d *Driver) Paused() bool {
	return d.paused.Load()
}

// Iterations returns how many passes were started.
func (d *Driver) Iterations() int64 {
	return d.iterations.Load()
}

// LastReports returns the latest report of every target, ordered by target.
func (d *Driver) LastReports() []*model.CycleReport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ret := make([]*model.CycleReport, 0, len(d.last))
	for _, r := range d.last {
		ret = append(ret, r)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Target < ret[j].Target
	})
	return ret
}

// sleep waits for interval and returns false if ctx ended first.
func (d *Driver) sleep(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		return ctx.Err() == nil
	}
	timer := d.clock.Timer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
