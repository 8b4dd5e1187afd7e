package hostsim

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/errors"

	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/clock"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
	"github.com/hanfei1991/batcher/pkg/hostapi"
)

// growth of a server per grow thread is capped at this multiplier
const maxGrowthRate = 1.0035

type server struct {
	ServerSpec
}

// Process is a workload running on the simulated host.
type Process struct {
	PID      model.ProcessID
	Host     model.HostID
	Kind     model.JobKind
	Threads  int
	Target   model.TargetID
	BatchID  string
	RAM      float64
	FinishAt time.Time
}

// Sim is an in-memory game host. Workloads take effect when they finish;
// the simulated time comes from the clock, so tests and dry runs can fast
// forward it with a mock clock.
type Sim struct {
	mu        sync.Mutex
	clock     clock.Clock
	scenario  *Scenario
	servers   map[model.HostID]*server
	order     []model.HostID
	processes []*Process
	nextPID   model.ProcessID
	stolen    float64
}

// New creates a Sim from a validated scenario.
func New(scenario *Scenario, clk clock.Clock) *Sim {
	s := &Sim{
		clock:    clk,
		scenario: scenario,
		servers:  make(map[model.HostID]*server, len(scenario.Servers)),
	}
	for _, spec := range scenario.Servers {
		s.servers[spec.ID] = &server{ServerSpec: spec}
		s.order = append(s.order, spec.ID)
	}
	return s
}

func (s *Sim) lookup(id model.HostID) (*server, error) {
	srv, ok := s.servers[id]
	if !ok {
		return nil, derrors.ErrHostNotFound.GenWithStackByArgs(id)
	}
	return srv, nil
}

func (s *Sim) lookupTarget(id model.TargetID) (*server, error) {
	srv, ok := s.servers[id]
	if !ok || srv.MaxMoney <= 0 {
		return nil, derrors.ErrTargetNotFound.GenWithStackByArgs(id)
	}
	return srv, nil
}

// ListHosts implements hostapi.Inventory. Only rooted servers with RAM are
// listed, in scenario order.
func (s *Sim) ListHosts(_ context.Context) (model.HostSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	ret := make(model.HostSnapshot, 0, len(s.order))
	for _, id := range s.order {
		srv := s.servers[id]
		if !srv.Rooted || srv.MaxRAM <= 0 {
			continue
		}
		ret = append(ret, model.Host{ID: id, MaxCapacity: srv.MaxRAM, UsedCapacity: srv.UsedRAM})
	}
	return ret, nil
}

// FreeCapacity implements hostapi.Inventory.
func (s *Sim) FreeCapacity(_ context.Context, host model.HostID) (model.CapacityUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	srv, err := s.lookup(host)
	if err != nil {
		return 0, err
	}
	return math.Max(0, srv.MaxRAM-srv.UsedRAM), nil
}

// hackPercent is the share of money one thread steals at the current
// security.
func (s *Sim) hackPercent(srv *server) float64 {
	return s.scenario.HackPercent * math.Max(0, 100-srv.Security) / 100
}

// HackThreadsForValue implements hostapi.Simulation.
func (s *Sim) HackThreadsForValue(_ context.Context, target model.TargetID, value float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	srv, err := s.lookupTarget(target)
	if err != nil {
		return 0, err
	}
	if value > srv.Money {
		return 0, derrors.ErrInsufficientValue.GenWithStackByArgs(target, srv.Money, value)
	}
	perThread := srv.Money * s.hackPercent(srv)
	if perThread <= 0 {
		return 0, errors.Errorf("target %s cannot be hacked at security %f", target, srv.Security)
	}
	return value / perThread, nil
}

func growthRate(srv *server) float64 {
	return math.Min(maxGrowthRate, 1+0.03/srv.Security)
}

// GrowThreadsForFactor implements hostapi.Simulation.
func (s *Sim) GrowThreadsForFactor(_ context.Context, target model.TargetID, factor float64, cores int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	srv, err := s.lookupTarget(target)
	if err != nil {
		return 0, err
	}
	if factor <= 1 {
		return 0, nil
	}
	if cores < 1 {
		cores = 1
	}
	coreBonus := 1 + float64(cores-1)/16
	perThread := math.Log(growthRate(srv)) * srv.Growth / 100 * coreBonus
	return math.Log(factor) / perThread, nil
}

// CurrentDefense implements hostapi.Simulation.
func (s *Sim) CurrentDefense(_ context.Context, target model.TargetID) (float64, error) {
	return s.read(target, func(srv *server) float64 { return srv.Security })
}

// MinDefense implements hostapi.Simulation.
func (s *Sim) MinDefense(_ context.Context, target model.TargetID) (float64, error) {
	return s.read(target, func(srv *server) float64 { return srv.MinSecurity })
}

// MaxValue implements hostapi.Simulation.
func (s *Sim) MaxValue(_ context.Context, target model.TargetID) (float64, error) {
	return s.read(target, func(srv *server) float64 { return srv.MaxMoney })
}

// CurrentValue implements hostapi.Simulation.
func (s *Sim) CurrentValue(_ context.Context, target model.TargetID) (float64, error) {
	return s.read(target, func(srv *server) float64 { return srv.Money })
}

// Cores implements hostapi.Simulation.
func (s *Sim) Cores(_ context.Context, target model.TargetID) (int, error) {
	cores, err := s.read(target, func(srv *server) float64 { return float64(srv.Cores) })
	return int(cores), err
}

func (s *Sim) read(target model.TargetID, fn func(srv *server) float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	srv, err := s.lookupTarget(target)
	if err != nil {
		return 0, err
	}
	return fn(srv), nil
}

func (s *Sim) duration(srv *server, kind model.JobKind) time.Duration {
	hack := time.Duration(float64(s.scenario.HackTime) * srv.Security / srv.MinSecurity)
	switch kind {
	case model.JobGrow:
		return hack * 16 / 5
	case model.JobWeakenPre, model.JobWeakenPost:
		return hack * 4
	}
	return hack
}

// HackTime implements hostapi.Timer.
func (s *Sim) HackTime(_ context.Context, target model.TargetID) (time.Duration, error) {
	return s.timeOf(target, model.JobHack)
}

// GrowTime implements hostapi.Timer.
func (s *Sim) GrowTime(_ context.Context, target model.TargetID) (time.Duration, error) {
	return s.timeOf(target, model.JobGrow)
}

// WeakenTime implements hostapi.Timer.
func (s *Sim) WeakenTime(_ context.Context, target model.TargetID) (time.Duration, error) {
	return s.timeOf(target, model.JobWeakenPre)
}

func (s *Sim) timeOf(target model.TargetID, kind model.JobKind) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	srv, err := s.lookupTarget(target)
	if err != nil {
		return 0, err
	}
	return s.duration(srv, kind), nil
}

// ThreadCosts implements hostapi.CostProvider.
func (s *Sim) ThreadCosts(_ context.Context) (model.CostTable, error) {
	ret := make(model.CostTable, len(s.scenario.ThreadCosts))
	for kind, cost := range s.scenario.ThreadCosts {
		ret[kind] = cost
	}
	return ret, nil
}

// DefenseModel implements hostapi.DefenseModelProvider.
func (s *Sim) DefenseModel(_ context.Context) (hostapi.DefenseModel, error) {
	return s.scenario.Defense, nil
}

// Candidates implements hostapi.Surveyor.
func (s *Sim) Candidates(_ context.Context) ([]model.TargetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]model.TargetInfo, 0, len(s.order))
	for _, id := range s.order {
		srv := s.servers[id]
		if srv.MaxMoney <= 0 {
			continue
		}
		ret = append(ret, model.TargetInfo{
			ID:            id,
			MaxValue:      srv.MaxMoney,
			RequiredLevel: srv.RequiredLevel,
			Rooted:        srv.Rooted,
		})
	}
	return ret, nil
}

// PlayerLevel implements hostapi.Surveyor.
func (s *Sim) PlayerLevel(_ context.Context) (int, error) {
	return s.scenario.PlayerLevel, nil
}

// Launch implements hostapi.Execution. A launch that does not fit the free
// RAM of the host is refused with a zero ProcessID, like the game does.
func (s *Sim) Launch(_ context.Context, req hostapi.LaunchRequest) (model.ProcessID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()

	srv, err := s.lookup(req.Host)
	if err != nil {
		return 0, err
	}
	target, err := s.lookupTarget(req.Args.Target)
	if err != nil {
		return 0, err
	}
	cost, ok := s.scenario.ThreadCosts[req.Kind]
	if !ok || req.Threads <= 0 {
		return 0, derrors.ErrLaunchFailed.GenWithStackByArgs(req.Kind, req.Threads, req.Host)
	}
	ram := cost * float64(req.Threads)
	if !srv.Rooted || srv.UsedRAM+ram > srv.MaxRAM+1e-9 {
		return 0, nil
	}
	srv.UsedRAM += ram
	s.nextPID++
	s.processes = append(s.processes, &Process{
		PID:      s.nextPID,
		Host:     req.Host,
		Kind:     req.Kind,
		Threads:  req.Threads,
		Target:   req.Args.Target,
		BatchID:  req.Args.BatchID,
		RAM:      ram,
		FinishAt: s.clock.Now().Add(req.Args.Delay + s.duration(target, req.Kind)),
	})
	return s.nextPID, nil
}

// Settle applies every workload that has finished by now.
func (s *Sim) Settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
}

func (s *Sim) settle() {
	now := s.clock.Now()
	sort.SliceStable(s.processes, func(i, j int) bool {
		return s.processes[i].FinishAt.Before(s.processes[j].FinishAt)
	})
	n := 0
	for n < len(s.processes) && !s.processes[n].FinishAt.After(now) {
		s.apply(s.processes[n])
		n++
	}
	s.processes = s.processes[n:]
}

func (s *Sim) apply(p *Process) {
	if host, ok := s.servers[p.Host]; ok {
		host.UsedRAM = math.Max(0, host.UsedRAM-p.RAM)
	}
	srv := s.servers[p.Target]
	threads := float64(p.Threads)
	def := s.scenario.Defense
	switch p.Kind {
	case model.JobHack:
		steal := math.Min(srv.Money, srv.Money*s.hackPercent(srv)*threads)
		srv.Money -= steal
		s.stolen += steal
		srv.Security += threads * def.HackCost
	case model.JobGrow:
		mult := math.Pow(growthRate(srv), threads*srv.Growth/100*(1+float64(srv.Cores-1)/16))
		srv.Money = math.Min(srv.MaxMoney, (srv.Money+threads)*mult)
		srv.Security += threads * def.GrowCost
	case model.JobWeakenPre, model.JobWeakenPost:
		srv.Security = math.Max(srv.MinSecurity, srv.Security-threads*def.WeakenReduction)
	}
}

// Processes returns the workloads still running.
func (s *Sim) Processes() []Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	ret := make([]Process, 0, len(s.processes))
	for _, p := range s.processes {
		ret = append(ret, *p)
	}
	return ret
}

// Stolen returns the money taken by finished hacks so far.
func (s *Sim) Stolen() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.stolen
}

// Server returns the current state of a server.
func (s *Sim) Server(id model.HostID) (ServerSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	srv, err := s.lookup(id)
	if err != nil {
		return ServerSpec{}, err
	}
	return srv.ServerSpec, nil
}
