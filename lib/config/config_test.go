package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/batcher/model"
	derrors "github.com/hanfei1991/batcher/pkg/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "batcher.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 0.005, cfg.Scheduler.BaseFraction)
	require.Equal(t, 0.0005, cfg.Scheduler.FloorFraction)
	require.Equal(t, StrategyBinary, cfg.Scheduler.Strategy)
	require.Equal(t, 20, cfg.Scheduler.SearchRounds)
	require.Equal(t, 2*time.Second, cfg.Driver.RetryInterval.Duration)
	require.Equal(t, time.Duration(0), cfg.Driver.NormalInterval.Duration)
	require.Equal(t, 4, cfg.Driver.TargetCount)
	require.Equal(t, model.UniformCostTable(1.75), cfg.Scheduler.Costs())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
status-addr = "127.0.0.1:9090"

[log]
level = "debug"

[scheduler]
base-fraction = 0.05
strategy = "geometric"
host-order = "snapshot"
launch-interval = "25ms"

[scheduler.thread-costs]
hack = 1.7

[scheduler.host-reserve]
home = 32.0

[driver]
targets = ["n00dles", "joesguns"]
retry-interval = "3s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.StatusAddr)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 0.05, cfg.Scheduler.BaseFraction)
	require.Equal(t, StrategyGeometric, cfg.Scheduler.Strategy)
	require.Equal(t, HostOrderSnapshot, cfg.Scheduler.HostOrder)
	require.Equal(t, 25*time.Millisecond, cfg.Scheduler.LaunchInterval.Duration)
	require.Equal(t, 32.0, cfg.Scheduler.HostReserve["home"])
	require.Equal(t, []model.TargetID{"n00dles", "joesguns"}, cfg.Driver.Targets)
	require.Equal(t, 3*time.Second, cfg.Driver.RetryInterval.Duration)

	costs := cfg.Scheduler.Costs()
	require.Equal(t, 1.7, costs[model.JobHack])
	require.Equal(t, 1.75, costs[model.JobGrow])
	// untouched sections keep their defaults
	require.Equal(t, 0.0005, cfg.Scheduler.FloorFraction)
}

func TestLoadRejectsUnknownItem(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
[scheduler]
base-fractoin = 0.05
`)
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, derrors.ErrConfigUnknownItem.Equal(err))
	require.Contains(t, err.Error(), "scheduler.base-fractoin")
}

func TestLoadRejectsBadFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.True(t, derrors.ErrConfigDecodeFile.Equal(err))

	path := writeConfigFile(t, `[scheduler]
launch-interval = "soon"
`)
	_, err = Load(path)
	require.True(t, derrors.ErrConfigDecodeFile.Equal(err))
}

func TestSchedulerConfigAdjust(t *testing.T) {
	t.Parallel()

	cfg := DefaultSchedulerConfig()
	cfg.BaseFraction = 0.0001
	cfg.SearchRounds = 0
	cfg.ShrinkFactor = 1.5
	cfg.HostOrder = ""
	require.NoError(t, cfg.Adjust())
	require.Equal(t, cfg.FloorFraction, cfg.BaseFraction)
	require.Equal(t, 20, cfg.SearchRounds)
	require.Equal(t, 0.92, cfg.ShrinkFactor)
	require.Equal(t, HostOrderFreeDesc, cfg.HostOrder)

	cfg = DefaultSchedulerConfig()
	cfg.BaseFraction = 3
	require.NoError(t, cfg.Adjust())
	require.Equal(t, 1.0, cfg.BaseFraction)

	cfg = DefaultSchedulerConfig()
	cfg.Strategy = "random"
	require.True(t, derrors.ErrConfigInvalid.Equal(cfg.Adjust()))

	cfg = DefaultSchedulerConfig()
	cfg.FloorFraction = 0
	require.True(t, derrors.ErrConfigInvalid.Equal(cfg.Adjust()))

	cfg = DefaultSchedulerConfig()
	cfg.ThreadCost = 0
	require.True(t, derrors.ErrConfigInvalid.Equal(cfg.Adjust()))
}

func TestConfigToml(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.Driver.Targets = []model.TargetID{"n00dles"}
	text, err := cfg.Toml()
	require.NoError(t, err)

	path := writeConfigFile(t, text)
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Driver.Targets, loaded.Driver.Targets)
	require.Equal(t, cfg.Scheduler.LandingSpacing, loaded.Scheduler.LandingSpacing)
	require.Equal(t, cfg.Bridge.URL, loaded.Bridge.URL)
}
