package model

import "encoding/json"

// HostID identifies a compute host in the game network.
type HostID = string

// CapacityUnit is the unit capacity is counted in. The host reports RAM in GB.
type CapacityUnit = float64

// Host describes one compute host as reported by the inventory collaborator.
// Records are supplied fresh each cycle and never mutated by the scheduler.
type Host struct {
	ID           HostID       `json:"id" yaml:"id"`
	MaxCapacity  CapacityUnit `json:"max_capacity" yaml:"max_capacity"`
	UsedCapacity CapacityUnit `json:"used_capacity" yaml:"used_capacity"`
}

// Free returns the capacity that is not in use. A negative value is
// treated as no availability.
func (h Host) Free() CapacityUnit {
	free := h.MaxCapacity - h.UsedCapacity
	if free < 0 {
		return 0
	}
	return free
}

// HostSnapshot is an ordered list of hosts read at the start of a pass.
type HostSnapshot []Host

// TotalFree sums the free capacity across all hosts.
func (s HostSnapshot) TotalFree() CapacityUnit {
	var total CapacityUnit
	for _, h := range s {
		total += h.Free()
	}
	return total
}

// Clone returns a copy that can be reordered without touching s.
func (s HostSnapshot) Clone() HostSnapshot {
	ret := make(HostSnapshot, len(s))
	copy(ret, s)
	return ret
}

// TargetID identifies the entity workloads are run against.
type TargetID = string

// TargetState is a point-in-time read of a target from the simulation.
type TargetState struct {
	MaxValue     float64 `json:"max_value"`
	CurrentValue float64 `json:"current_value"`
	Defense      float64 `json:"defense"`
	MinDefense   float64 `json:"min_defense"`
	Cores        int     `json:"cores"`
}

// TargetInfo is used to rank candidate targets.
type TargetInfo struct {
	ID            TargetID `json:"id"`
	MaxValue      float64  `json:"max_value"`
	RequiredLevel int      `json:"required_level"`
	Rooted        bool     `json:"rooted"`
}

func (s TargetState) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
