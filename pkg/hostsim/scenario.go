package hostsim

import (
	"os"
	"time"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"

	"github.com/hanfei1991/batcher/model"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
	"github.com/hanfei1991/batcher/pkg/hostapi"
)

// ServerSpec is one server of a scenario. A server with RAM can run
// workloads, a server with money can be a target, many are both.
type ServerSpec struct {
	ID            model.HostID `yaml:"id"`
	MaxRAM        float64      `yaml:"max_ram"`
	UsedRAM       float64      `yaml:"used_ram"`
	MaxMoney      float64      `yaml:"max_money"`
	Money         float64      `yaml:"money"`
	Security      float64      `yaml:"security"`
	MinSecurity   float64      `yaml:"min_security"`
	Growth        float64      `yaml:"growth"`
	RequiredLevel int          `yaml:"required_level"`
	Rooted        bool         `yaml:"rooted"`
	Cores         int          `yaml:"cores"`
}

// Scenario describes the simulated game world.
type Scenario struct {
	PlayerLevel int `yaml:"player_level"`
	// HackPercent is the share of a target's money one hack thread steals
	// at zero security.
	HackPercent float64 `yaml:"hack_percent"`
	// HackTime is how long a hack runs against a target at its minimum
	// security. Grow takes 3.2 times and weaken 4 times as long.
	HackTime    time.Duration             `yaml:"hack_time"`
	ThreadCosts map[model.JobKind]float64 `yaml:"thread_costs"`
	Defense     hostapi.DefenseModel      `yaml:"defense"`
	Servers     []ServerSpec              `yaml:"servers"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ParseScenario(raw)
}

// ParseScenario decodes and validates a YAML scenario, filling defaults.
func ParseScenario(raw []byte) (*Scenario, error) {
	s := &Scenario{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, derrors.ErrScenarioInvalid.GenWithStackByArgs(err.Error())
	}
	if err := s.Adjust(); err != nil {
		return nil, err
	}
	return s, nil
}

// Adjust fills defaults and validates the scenario.
func (s *Scenario) Adjust() error {
	if s.PlayerLevel <= 0 {
		s.PlayerLevel = 1
	}
	if s.HackPercent == 0 {
		s.HackPercent = 0.002
	}
	if s.HackPercent < 0 || s.HackPercent > 1 {
		return derrors.ErrScenarioInvalid.GenWithStackByArgs("hack_percent must be in (0, 1]")
	}
	if s.HackTime <= 0 {
		s.HackTime = 10 * time.Second
	}
	costs := model.CostTable{
		model.JobHack:       1.7,
		model.JobGrow:       1.75,
		model.JobWeakenPre:  1.75,
		model.JobWeakenPost: 1.75,
	}
	for kind, cost := range s.ThreadCosts {
		if _, ok := costs[kind]; !ok {
			return derrors.ErrScenarioInvalid.GenWithStackByArgs("unknown job kind " + string(kind))
		}
		if cost <= 0 {
			return derrors.ErrScenarioInvalid.GenWithStackByArgs("thread cost of " + string(kind) + " must be positive")
		}
		costs[kind] = cost
	}
	s.ThreadCosts = costs

	def := hostapi.DefaultDefenseModel()
	if s.Defense.HackCost <= 0 {
		s.Defense.HackCost = def.HackCost
	}
	if s.Defense.GrowCost <= 0 {
		s.Defense.GrowCost = def.GrowCost
	}
	if s.Defense.WeakenReduction <= 0 {
		s.Defense.WeakenReduction = def.WeakenReduction
	}

	if len(s.Servers) == 0 {
		return derrors.ErrScenarioInvalid.GenWithStackByArgs("no servers")
	}
	seen := make(map[model.HostID]struct{}, len(s.Servers))
	for i := range s.Servers {
		srv := &s.Servers[i]
		if srv.ID == "" {
			return derrors.ErrScenarioInvalid.GenWithStackByArgs("server without id")
		}
		if _, ok := seen[srv.ID]; ok {
			return derrors.ErrScenarioInvalid.GenWithStackByArgs("duplicate server " + srv.ID)
		}
		seen[srv.ID] = struct{}{}
		if srv.MaxRAM < 0 || srv.UsedRAM < 0 || srv.UsedRAM > srv.MaxRAM {
			return derrors.ErrScenarioInvalid.GenWithStackByArgs("bad ram on " + srv.ID)
		}
		if srv.MaxMoney < 0 || srv.Money < 0 || srv.Money > srv.MaxMoney {
			return derrors.ErrScenarioInvalid.GenWithStackByArgs("bad money on " + srv.ID)
		}
		if srv.MinSecurity < 1 {
			srv.MinSecurity = 1
		}
		if srv.Security < srv.MinSecurity {
			srv.Security = srv.MinSecurity
		}
		if srv.Growth <= 0 {
			srv.Growth = 10
		}
		if srv.Cores <= 0 {
			srv.Cores = 1
		}
	}
	return nil
}
