package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/batcher/driver"
	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/pkg/clock"
	"github.com/hanfei1991/batcher/pkg/hostsim"
	"github.com/hanfei1991/batcher/pkg/promutil"
)

const testScenario = "../../pkg/hostsim/testdata/early.yaml"

func execute(t *testing.T, args ...string) (*cli, string, error) {
	t.Helper()
	cl := newCLI()
	var out bytes.Buffer
	cl.rootCmd.SetOut(&out)
	cl.rootCmd.SetErr(&out)
	cl.rootCmd.SetArgs(args)
	err := cl.rootCmd.Execute()
	return cl, out.String(), err
}

func TestOverridesOnlyChangedFlags(t *testing.T) {
	cl, out, err := execute(t, "config", "--base-fraction", "0.01", "--strategy", "geometric", "--targets", "n00dles,foodnstuff")
	require.NoError(t, err)

	def := config.DefaultSchedulerConfig()
	require.Equal(t, 0.01, cl.cfg.Scheduler.BaseFraction)
	require.Equal(t, def.FloorFraction, cl.cfg.Scheduler.FloorFraction)
	require.Equal(t, config.StrategyGeometric, cl.cfg.Scheduler.Strategy)
	require.Equal(t, def.HostOrder, cl.cfg.Scheduler.HostOrder)
	require.Equal(t, []string{"n00dles", "foodnstuff"}, cl.cfg.Driver.Targets)
	require.Contains(t, out, `strategy = "geometric"`)
}

func TestInvalidOverride(t *testing.T) {
	_, _, err := execute(t, "config", "--host-order", "random")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown host-order random")
}

func TestSimulate(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	_, out, err := execute(t, "simulate", "-s", testScenario, "-n", "10", "--step", "2s", "--journal", journalPath)
	require.NoError(t, err)
	require.Contains(t, out, "foodnstuff")
	require.Contains(t, out, "n00dles")
	require.NotContains(t, out, "joesguns")
	require.Contains(t, out, "simulated 20s")

	_, out, err = execute(t, "history", "--journal", journalPath, "--summary")
	require.NoError(t, err)
	require.Contains(t, out, "AVG FRACTION")
	require.Contains(t, out, "n00dles")

	_, out, err = execute(t, "history", "--journal", journalPath, "-t", "foodnstuff", "-n", "3")
	require.NoError(t, err)
	require.Contains(t, out, "foodnstuff")
	require.NotContains(t, out, "n00dles")
}

func TestSimulateNeedsScenario(t *testing.T) {
	_, _, err := execute(t, "simulate")
	require.Error(t, err)
}

func TestPlanAgainstScenario(t *testing.T) {
	_, out, err := execute(t, "plan", "n00dles", "-s", testScenario, "-f", "0.5")
	require.NoError(t, err)
	require.Contains(t, out, `"target": "n00dles"`)
	require.Contains(t, out, `"fraction": 0.5`)
	require.Contains(t, out, `"fits"`)

	_, _, err = execute(t, "plan", "n00dles", "-s", testScenario, "-f", "2")
	require.Error(t, err)
}

func TestHistoryWithoutJournal(t *testing.T) {
	_, _, err := execute(t, "history")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no journal configured")
}

func TestExampleConfig(t *testing.T) {
	cl, _, err := execute(t, "config", "-c", "batcher.example.toml", "--journal", "")
	require.NoError(t, err)
	require.Equal(t, 16.0, cl.cfg.Scheduler.HostReserve["home"])
	require.Equal(t, 1.7, cl.cfg.Scheduler.Costs()["hack"])
	require.Equal(t, "127.0.0.1:9273", cl.cfg.StatusAddr)
	require.Empty(t, cl.cfg.JournalPath)
}

func TestRunWithStatusStops(t *testing.T) {
	scenario, err := hostsim.LoadScenario(testScenario)
	require.NoError(t, err)
	sim := hostsim.New(scenario, clock.NewMock())
	reg := promutil.NewRegistry()
	d := driver.NewDriver(config.NewConfig(), sim, driver.WithFactory(promutil.NewFactory(reg, "", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runWithStatus(ctx, "127.0.0.1:0", d, reg)
	}()
	require.Eventually(t, func() bool {
		return len(sim.Processes()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runWithStatus did not stop")
	}
}
