package hostapi

import (
	"context"
	"sync"

	"github.com/pingcap/errors"

	"github.com/hanfei1991/batcher/model"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
)

// MockInventory mocks an Inventory for unit tests.
type MockInventory struct {
	Hosts model.HostSnapshot
	Err   error
}

func (m *MockInventory) ListHosts(_ context.Context) (model.HostSnapshot, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Hosts.Clone(), nil
}

func (m *MockInventory) FreeCapacity(_ context.Context, host model.HostID) (model.CapacityUnit, error) {
	for _, h := range m.Hosts {
		if h.ID == host {
			return h.Free(), nil
		}
	}
	return 0, derrors.ErrHostNotFound.GenWithStackByArgs(host)
}

// MockTarget is one target of a MockSimulation. Hack threads scale
// linearly with the stolen value, grow threads with the growth factor.
type MockTarget struct {
	State model.TargetState
	// HackYield is the value one hack thread steals.
	HackYield float64
	// GrowScale is the number of grow threads per unit of factor above 1.
	GrowScale float64
}

// MockSimulation mocks a Simulation for unit tests.
type MockSimulation struct {
	Targets map[model.TargetID]*MockTarget
	// Err is returned by every call when set.
	Err error
}

func (m *MockSimulation) target(id model.TargetID) (*MockTarget, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	t, ok := m.Targets[id]
	if !ok {
		return nil, derrors.ErrTargetNotFound.GenWithStackByArgs(id)
	}
	return t, nil
}

func (m *MockSimulation) HackThreadsForValue(_ context.Context, id model.TargetID, value float64) (float64, error) {
	t, err := m.target(id)
	if err != nil {
		return 0, err
	}
	if t.HackYield <= 0 {
		return 0, errors.Errorf("target %s has no hack yield", id)
	}
	return value / t.HackYield, nil
}

func (m *MockSimulation) GrowThreadsForFactor(_ context.Context, id model.TargetID, factor float64, cores int) (float64, error) {
	t, err := m.target(id)
	if err != nil {
		return 0, err
	}
	if cores < 1 {
		cores = 1
	}
	return (factor - 1) * t.GrowScale / float64(cores), nil
}

func (m *MockSimulation) CurrentDefense(_ context.Context, id model.TargetID) (float64, error) {
	t, err := m.target(id)
	if err != nil {
		return 0, err
	}
	return t.State.Defense, nil
}

func (m *MockSimulation) MinDefense(_ context.Context, id model.TargetID) (float64, error) {
	t, err := m.target(id)
	if err != nil {
		return 0, err
	}
	return t.State.MinDefense, nil
}

func (m *MockSimulation) MaxValue(_ context.Context, id model.TargetID) (float64, error) {
	t, err := m.target(id)
	if err != nil {
		return 0, err
	}
	return t.State.MaxValue, nil
}

func (m *MockSimulation) CurrentValue(_ context.Context, id model.TargetID) (float64, error) {
	t, err := m.target(id)
	if err != nil {
		return 0, err
	}
	return t.State.CurrentValue, nil
}

func (m *MockSimulation) Cores(_ context.Context, id model.TargetID) (int, error) {
	t, err := m.target(id)
	if err != nil {
		return 0, err
	}
	return t.State.Cores, nil
}

// MockExecution records launches. Launches on hosts listed in FailHosts
// are refused with a zero ProcessID.
type MockExecution struct {
	mu        sync.Mutex
	nextPID   model.ProcessID
	FailHosts map[model.HostID]bool
	Launched  []LaunchRequest
}

func (m *MockExecution) Launch(_ context.Context, req LaunchRequest) (model.ProcessID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailHosts[req.Host] {
		return 0, nil
	}
	m.nextPID++
	m.Launched = append(m.Launched, req)
	return m.nextPID, nil
}

// Requests returns a copy of the recorded launches.
func (m *MockExecution) Requests() []LaunchRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]LaunchRequest, len(m.Launched))
	copy(ret, m.Launched)
	return ret
}
