package scheduler

import (
	"context"
	"math"
	"sort"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/model"
)

// free capacity within fitEpsilon of a whole thread still holds that thread
const fitEpsilon = 1e-9

// launchFunc places threads of job on host. It returns false when the host
// refused the launch.
type launchFunc func(ctx context.Context, host model.HostID, job model.Job, threads int) (model.ProcessID, bool)

// hostSlot is the virtual free capacity of a host within one pass.
type hostSlot struct {
	id   model.HostID
	free model.CapacityUnit
}

// Packer distributes jobs over hosts, first-fit in host order. It keeps no
// state between passes.
type Packer struct {
	order   string
	reserve map[model.HostID]float64
	limiter *rate.Limiter
}

// NewPacker creates a Packer from the scheduler config.
func NewPacker(cfg config.SchedulerConfig) *Packer {
	limit := rate.Inf
	if cfg.LaunchInterval.Duration > 0 {
		limit = rate.Every(cfg.LaunchInterval.Duration)
	}
	return &Packer{
		order:   cfg.HostOrder,
		reserve: cfg.HostReserve,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// slots copies hosts into per-pass slots, minus the configured reserve.
func (p *Packer) slots(hosts model.HostSnapshot) []hostSlot {
	ret := make([]hostSlot, 0, len(hosts))
	for _, h := range hosts {
		free := h.Free() - p.reserve[h.ID]
		if free < 0 {
			free = 0
		}
		ret = append(ret, hostSlot{id: h.ID, free: free})
	}
	if p.order == config.HostOrderFreeDesc {
		sort.SliceStable(ret, func(i, j int) bool {
			return ret[i].free > ret[j].free
		})
	}
	return ret
}

// Fits reports whether every job can be placed in full. It only works on a
// private copy of hosts.
func (p *Packer) Fits(jobs []model.Job, hosts model.HostSnapshot) bool {
	_, shortfall, _ := p.walk(context.Background(), jobs, p.slots(hosts), nil)
	return len(shortfall) == 0
}

// DryRun returns the allocation a real pass would make, without launching.
func (p *Packer) DryRun(jobs []model.Job, hosts model.HostSnapshot) (model.Allocation, map[model.JobKind]int) {
	alloc, shortfall, _ := p.walk(context.Background(), jobs, p.slots(hosts), nil)
	return alloc, shortfall
}

// Place walks hosts like DryRun and calls launch for each placement. A
// refused launch leaves the rest of that job unplaced for this pass; other
// jobs still go ahead. canceled is set when ctx ended mid-pass.
func (p *Packer) Place(
	ctx context.Context,
	jobs []model.Job,
	hosts model.HostSnapshot,
	launch launchFunc,
) (alloc model.Allocation, shortfall map[model.JobKind]int, canceled bool) {
	return p.walk(ctx, jobs, p.slots(hosts), launch)
}

func (p *Packer) walk(
	ctx context.Context,
	jobs []model.Job,
	slots []hostSlot,
	launch launchFunc,
) (model.Allocation, map[model.JobKind]int, bool) {
	alloc := make(model.Allocation)
	shortfall := make(map[model.JobKind]int)
	canceled := false

	for _, job := range jobs {
		remaining := job.Threads
		if canceled {
			if remaining > 0 {
				shortfall[job.Kind] += remaining
			}
			continue
		}
	hostLoop:
		for i := range slots {
			if remaining <= 0 {
				break
			}
			slot := &slots[i]
			threads := remaining
			if job.CostPerThread > 0 {
				maxFits := int(math.Floor(slot.free/job.CostPerThread + fitEpsilon))
				if maxFits < threads {
					threads = maxFits
				}
			}
			if threads <= 0 {
				continue
			}

			var pid model.ProcessID
			if launch != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					canceled = true
					break hostLoop
				}
				var ok bool
				pid, ok = launch(ctx, slot.id, job, threads)
				if !ok {
					// the snapshot went stale; trust the host and stop this job
					log.L().Debug("launch refused",
						zap.String("host", slot.id),
						zap.String("kind", string(job.Kind)),
						zap.Int("threads", threads))
					break hostLoop
				}
			}

			slot.free -= model.CapacityUnit(threads) * job.CostPerThread
			remaining -= threads
			alloc[job.Kind] = append(alloc[job.Kind], model.Placement{
				Host:    slot.id,
				Kind:    job.Kind,
				Threads: threads,
				PID:     pid,
			})
		}
		if remaining > 0 {
			shortfall[job.Kind] += remaining
		}
	}
	return alloc, shortfall, canceled
}
