package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/hanfei1991/batcher/model"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
	"github.com/hanfei1991/batcher/pkg/hostapi"
	"github.com/hanfei1991/batcher/pkg/logutil"
)

// Search strategies.
const (
	StrategyBinary    = "binary"
	StrategyGeometric = "geometric"
)

// Host orders used when packing.
const (
	HostOrderSnapshot = "snapshot"
	HostOrderFreeDesc = "free-desc"
)

// SchedulerConfig tunes one scheduling cycle.
type SchedulerConfig struct {
	// BaseFraction is where every cycle starts searching.
	BaseFraction float64 `toml:"base-fraction" json:"base-fraction"`
	// FloorFraction is the smallest fraction worth a batch.
	FloorFraction float64 `toml:"floor-fraction" json:"floor-fraction"`

	Strategy        string  `toml:"strategy" json:"strategy"`
	SearchRounds    int     `toml:"search-rounds" json:"search-rounds"`
	SearchTolerance float64 `toml:"search-tolerance" json:"search-tolerance"`
	ShrinkFactor    float64 `toml:"shrink-factor" json:"shrink-factor"`
	ShrinkMaxIter   int     `toml:"shrink-max-iterations" json:"shrink-max-iterations"`

	HostOrder   string                    `toml:"host-order" json:"host-order"`
	HostReserve map[model.HostID]float64  `toml:"host-reserve" json:"host-reserve"`
	ThreadCost  float64                   `toml:"thread-cost" json:"thread-cost"`
	ThreadCosts map[model.JobKind]float64 `toml:"thread-costs" json:"thread-costs"`
	Defense     hostapi.DefenseModel      `toml:"defense" json:"defense"`

	// LaunchInterval is the pause between two launch calls in one pass.
	LaunchInterval Duration `toml:"launch-interval" json:"launch-interval"`
	// LandingSpacing separates the finish times of the jobs of a batch.
	LandingSpacing Duration `toml:"landing-spacing" json:"landing-spacing"`
}

// DriverConfig tunes the loop that runs the cycles.
type DriverConfig struct {
	Targets         []model.TargetID `toml:"targets" json:"targets"`
	TargetCount     int              `toml:"target-count" json:"target-count"`
	MinHostCapacity float64          `toml:"min-host-capacity" json:"min-host-capacity"`

	// NormalInterval follows a cycle where every target was placed.
	NormalInterval Duration `toml:"normal-interval" json:"normal-interval"`
	// RetryInterval follows a cycle with any shortfall.
	RetryInterval Duration `toml:"retry-interval" json:"retry-interval"`
	// TargetInterval separates cycles of different targets.
	TargetInterval Duration `toml:"target-interval" json:"target-interval"`
}

// BridgeConfig points at the websocket bridge running inside the game.
type BridgeConfig struct {
	URL            string   `toml:"url" json:"url"`
	DialTimeout    Duration `toml:"dial-timeout" json:"dial-timeout"`
	RequestTimeout Duration `toml:"request-timeout" json:"request-timeout"`
	MaxDialElapsed Duration `toml:"max-dial-elapsed" json:"max-dial-elapsed"`
}

// Config is the configuration of the agent.
type Config struct {
	Log       logutil.Config  `toml:"log" json:"log"`
	Scheduler SchedulerConfig `toml:"scheduler" json:"scheduler"`
	Driver    DriverConfig    `toml:"driver" json:"driver"`
	Bridge    BridgeConfig    `toml:"bridge" json:"bridge"`

	StatusAddr  string `toml:"status-addr" json:"status-addr"`
	JournalPath string `toml:"journal-path" json:"journal-path"`
}

// DefaultSchedulerConfig returns the values the agent ran with originally.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseFraction:    0.005,
		FloorFraction:   0.0005,
		Strategy:        StrategyBinary,
		SearchRounds:    20,
		SearchTolerance: 1e-6,
		ShrinkFactor:    0.92,
		ShrinkMaxIter:   40,
		HostOrder:       HostOrderFreeDesc,
		ThreadCost:      1.75,
		Defense:         hostapi.DefaultDefenseModel(),
		LandingSpacing:  NewDuration(200 * time.Millisecond),
	}
}

// DefaultDriverConfig returns the default loop pacing.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		TargetCount:     4,
		MinHostCapacity: 8,
		RetryInterval:   NewDuration(2 * time.Second),
		TargetInterval:  NewDuration(120 * time.Millisecond),
	}
}

// NewConfig returns a Config filled with defaults.
func NewConfig() *Config {
	return &Config{
		Log:       logutil.DefaultConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Driver:    DefaultDriverConfig(),
		Bridge: BridgeConfig{
			URL:            "ws://127.0.0.1:12525/bridge",
			DialTimeout:    NewDuration(5 * time.Second),
			RequestTimeout: NewDuration(10 * time.Second),
			MaxDialElapsed: NewDuration(time.Minute),
		},
	}
}

// Costs resolves the per-thread cost table. Explicit per-kind costs win
// over the uniform ThreadCost.
func (c SchedulerConfig) Costs() model.CostTable {
	costs := model.UniformCostTable(c.ThreadCost)
	for kind, cost := range c.ThreadCosts {
		if cost > 0 {
			costs[kind] = cost
		}
	}
	return costs
}

// Adjust validates the SchedulerConfig and adjusts it.
func (c *SchedulerConfig) Adjust() error {
	def := DefaultSchedulerConfig()
	if c.FloorFraction <= 0 || c.FloorFraction > 1 {
		return derrors.ErrConfigInvalid.GenWithStackByArgs(
			fmt.Sprintf("floor-fraction %v must be in (0, 1]", c.FloorFraction))
	}
	if c.BaseFraction > 1 {
		c.BaseFraction = 1
	}
	// the base fraction must not be smaller than the floor
	if c.BaseFraction < c.FloorFraction {
		c.BaseFraction = c.FloorFraction
	}
	switch c.Strategy {
	case "":
		c.Strategy = def.Strategy
	case StrategyBinary, StrategyGeometric:
	default:
		return derrors.ErrConfigInvalid.GenWithStackByArgs("unknown strategy " + c.Strategy)
	}
	if c.SearchRounds < 1 {
		c.SearchRounds = def.SearchRounds
	}
	if c.SearchTolerance < 0 {
		c.SearchTolerance = 0
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = def.ShrinkFactor
	}
	if c.ShrinkMaxIter < 1 {
		c.ShrinkMaxIter = def.ShrinkMaxIter
	}
	switch c.HostOrder {
	case "":
		c.HostOrder = def.HostOrder
	case HostOrderSnapshot, HostOrderFreeDesc:
	default:
		return derrors.ErrConfigInvalid.GenWithStackByArgs("unknown host-order " + c.HostOrder)
	}
	if c.ThreadCost <= 0 {
		return derrors.ErrConfigInvalid.GenWithStackByArgs(
			fmt.Sprintf("thread-cost %v must be positive", c.ThreadCost))
	}
	if c.LaunchInterval.Duration < 0 {
		c.LaunchInterval.Duration = 0
	}
	if c.LandingSpacing.Duration < 0 {
		c.LandingSpacing.Duration = 0
	}
	return nil
}

// Adjust validates the DriverConfig and adjusts it.
func (c *DriverConfig) Adjust() error {
	if c.TargetCount < 1 {
		c.TargetCount = 1
	}
	if c.MinHostCapacity < 0 {
		c.MinHostCapacity = 0
	}
	for _, d := range []*Duration{&c.NormalInterval, &c.RetryInterval, &c.TargetInterval} {
		if d.Duration < 0 {
			d.Duration = 0
		}
	}
	return nil
}

// Adjust validates the whole Config.
func (c *Config) Adjust() error {
	if err := c.Scheduler.Adjust(); err != nil {
		return err
	}
	return c.Driver.Adjust()
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal to json", zap.Reflect("config", c), zap.Error(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Trace(err)
	}
	return b.String(), nil
}

// ConfigFromFile loads config from file on top of the current values.
func (c *Config) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return derrors.ErrConfigDecodeFile.GenWithStackByArgs(path, err.Error())
	}
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return derrors.ErrConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}

// Load reads path (if not empty) over the defaults and adjusts the result.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		if err := cfg.ConfigFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}
