package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/model"
)

func newTestPacker(order string) *Packer {
	cfg := config.DefaultSchedulerConfig()
	cfg.HostOrder = order
	return NewPacker(cfg)
}

func testJobs(hack, grow, weakenPre, weakenPost int) []model.Job {
	plan := model.Plan{Hack: hack, Grow: grow, WeakenPre: weakenPre, WeakenPost: weakenPost}
	s := &Scheduler{costs: model.UniformCostTable(1.75)}
	return s.jobs(plan, model.JobArgs{Target: "n00dles"}, nil)
}

func testHosts(free ...float64) model.HostSnapshot {
	ids := []string{"home", "pserv-0", "pserv-1", "pserv-2"}
	hosts := make(model.HostSnapshot, 0, len(free))
	for i, f := range free {
		hosts = append(hosts, model.Host{ID: ids[i], MaxCapacity: f})
	}
	return hosts
}

func TestPackerFillsFirstHostFirst(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderSnapshot)
	hosts := testHosts(50, 30)
	jobs := testJobs(10, 5, 3, 0)

	require.True(t, p.Fits(jobs, hosts))
	alloc, shortfall := p.DryRun(jobs, hosts)
	require.Empty(t, shortfall)
	require.Equal(t, []model.Placement{{Host: "home", Kind: model.JobHack, Threads: 10}}, alloc[model.JobHack])
	require.Equal(t, []model.Placement{{Host: "home", Kind: model.JobGrow, Threads: 5}}, alloc[model.JobGrow])
	require.Equal(t, []model.Placement{{Host: "home", Kind: model.JobWeakenPre, Threads: 3}}, alloc[model.JobWeakenPre])
	require.Empty(t, alloc[model.JobWeakenPost])
}

func TestPackerSpillsToNextHost(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderSnapshot)
	hosts := testHosts(30, 50)
	alloc, shortfall := p.DryRun(testJobs(10, 5, 3, 0), hosts)
	require.Empty(t, shortfall)
	require.Equal(t, []model.Placement{
		{Host: "home", Kind: model.JobWeakenPre, Threads: 2},
		{Host: "pserv-0", Kind: model.JobWeakenPre, Threads: 1},
	}, alloc[model.JobWeakenPre])

	// sorted by free capacity the big host takes everything
	p = newTestPacker(config.HostOrderFreeDesc)
	alloc, shortfall = p.DryRun(testJobs(10, 5, 3, 0), hosts)
	require.Empty(t, shortfall)
	require.Equal(t, []model.Placement{{Host: "pserv-0", Kind: model.JobWeakenPre, Threads: 3}}, alloc[model.JobWeakenPre])
}

func TestPackerExactFitAcrossHosts(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderSnapshot)
	hosts := testHosts(50, 30)
	jobs := testJobs(40, 0, 5, 0)

	alloc, shortfall := p.DryRun(jobs, hosts)
	require.Empty(t, shortfall)
	require.Equal(t, []model.Placement{
		{Host: "home", Kind: model.JobHack, Threads: 28},
		{Host: "pserv-0", Kind: model.JobHack, Threads: 12},
	}, alloc[model.JobHack])
	require.Equal(t, []model.Placement{
		{Host: "pserv-0", Kind: model.JobWeakenPre, Threads: 5},
	}, alloc[model.JobWeakenPre])

	// one more thread of either kind no longer fits
	require.False(t, p.Fits(testJobs(41, 0, 5, 0), hosts))
	require.False(t, p.Fits(testJobs(40, 0, 6, 0), hosts))
}

func TestPackerChecksPerHostNotAggregate(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderSnapshot)
	hosts := testHosts(3.4, 3.4)
	jobs := testJobs(3, 0, 0, 0)
	// 5.25 needed and 6.8 free, but each host holds one thread only
	require.Less(t, jobs[0].Cost(), hosts.TotalFree())
	require.False(t, p.Fits(jobs, hosts))

	_, shortfall := p.DryRun(jobs, hosts)
	require.Equal(t, map[model.JobKind]int{model.JobHack: 1}, shortfall)
}

func TestPackerPlacesStabilizingJobFirst(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderSnapshot)
	hosts := testHosts(7)
	// 4 threads of room: the weakenPost job wins the capacity
	_, shortfall := p.DryRun(testJobs(2, 0, 1, 3), hosts)
	require.Equal(t, map[model.JobKind]int{model.JobHack: 1, model.JobWeakenPre: 1}, shortfall)
}

func TestPackerDryRunIsPure(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderFreeDesc)
	hosts := model.HostSnapshot{
		{ID: "home", MaxCapacity: 32, UsedCapacity: 4},
		{ID: "pserv-0", MaxCapacity: 64, UsedCapacity: 70},
		{ID: "pserv-1", MaxCapacity: 128},
	}
	before := hosts.Clone()
	jobs := testJobs(40, 20, 3, 1)

	alloc1, short1 := p.DryRun(jobs, hosts)
	alloc2, short2 := p.DryRun(jobs, hosts)
	require.Equal(t, alloc1, alloc2)
	require.Equal(t, short1, short2)
	require.Equal(t, p.Fits(jobs, hosts), p.Fits(jobs, hosts))
	require.Equal(t, before, hosts)
}

func TestPackerHonorsReserve(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultSchedulerConfig()
	cfg.HostOrder = config.HostOrderSnapshot
	cfg.HostReserve = map[model.HostID]float64{"home": 48}
	p := NewPacker(cfg)

	alloc, shortfall := p.DryRun(testJobs(2, 0, 0, 0), testHosts(50, 30))
	require.Empty(t, shortfall)
	require.Equal(t, []model.Placement{
		{Host: "home", Kind: model.JobHack, Threads: 1},
		{Host: "pserv-0", Kind: model.JobHack, Threads: 1},
	}, alloc[model.JobHack])
}

func TestPackerPlaceStopsKindOnRefusal(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderSnapshot)
	hosts := testHosts(10, 50)
	var calls []model.Placement
	launch := func(_ context.Context, host model.HostID, job model.Job, threads int) (model.ProcessID, bool) {
		calls = append(calls, model.Placement{Host: host, Kind: job.Kind, Threads: threads})
		if host == "pserv-0" && job.Kind == model.JobHack {
			return 0, false
		}
		return model.ProcessID(len(calls)), true
	}

	alloc, shortfall, canceled := p.Place(context.Background(), testJobs(10, 4, 1, 0), hosts, launch)
	require.False(t, canceled)
	require.Equal(t, map[model.JobKind]int{model.JobHack: 5}, shortfall)
	require.Equal(t, 5, alloc.Placed(model.JobHack))
	require.Equal(t, 4, alloc.Placed(model.JobGrow))
	require.Equal(t, 1, alloc.Placed(model.JobWeakenPre))
	require.Equal(t, []model.Placement{
		{Host: "home", Kind: model.JobHack, Threads: 5},
		{Host: "pserv-0", Kind: model.JobHack, Threads: 5},
		{Host: "pserv-0", Kind: model.JobGrow, Threads: 4},
		{Host: "pserv-0", Kind: model.JobWeakenPre, Threads: 1},
	}, calls)
}

func TestPackerPlaceCanceled(t *testing.T) {
	t.Parallel()

	p := newTestPacker(config.HostOrderSnapshot)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	launched := 0
	launch := func(context.Context, model.HostID, model.Job, int) (model.ProcessID, bool) {
		launched++
		return 1, true
	}

	alloc, shortfall, canceled := p.Place(ctx, testJobs(10, 5, 3, 0), testHosts(50, 30), launch)
	require.True(t, canceled)
	require.Zero(t, launched)
	require.Empty(t, alloc)
	require.Equal(t, map[model.JobKind]int{model.JobHack: 10, model.JobGrow: 5, model.JobWeakenPre: 3}, shortfall)
}
