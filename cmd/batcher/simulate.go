package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanfei1991/batcher/driver"
	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/model"
	"github.com/hanfei1991/batcher/pkg/clock"
	"github.com/hanfei1991/batcher/pkg/hostsim"
	"github.com/hanfei1991/batcher/pkg/journal"
	"github.com/hanfei1991/batcher/pkg/wsbridge"
)

type simulateCmd struct {
	scenario string
	passes   int
	step     time.Duration
}

func (c *simulateCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the scheduler against a simulated network on a virtual clock",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&c.scenario, "scenario", "s", "", "path of the YAML scenario")
	cmd.Flags().IntVarP(&c.passes, "passes", "n", 50, "number of driver passes")
	cmd.Flags().DurationVar(&c.step, "step", 2*time.Second, "virtual time between two passes")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func (c *simulateCmd) run(cl *cli, cmd *cobra.Command, _ []string) error {
	if c.passes <= 0 {
		return errors.Errorf("passes must be positive, got %d", c.passes)
	}
	scenario, err := hostsim.LoadScenario(c.scenario)
	if err != nil {
		return err
	}

	clk := clock.NewMock()
	sim := hostsim.New(scenario, clk)

	// passes are driven by hand, the loop intervals do not apply
	cfg := *cl.cfg
	cfg.Driver.TargetInterval = config.NewDuration(0)

	var opts []driver.Option
	opts = append(opts, driver.WithClock(clk))
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, driver.WithRecorder(j))
	}
	d := driver.NewDriver(&cfg, sim, opts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	outcomes := make(map[model.TargetID]map[model.Outcome]int)
	for i := 0; i < c.passes; i++ {
		if _, err := d.RunOnce(ctx); err != nil {
			return err
		}
		for _, report := range d.LastReports() {
			if outcomes[report.Target] == nil {
				outcomes[report.Target] = make(map[model.Outcome]int)
			}
			outcomes[report.Target][report.Outcome]++
		}
		clk.Add(c.step)
	}
	sim.Settle()

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tPLACED\tPARTIAL\tABSTAINED\tCANCELED")
	for _, report := range d.LastReports() {
		o := outcomes[report.Target]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", report.Target,
			o[model.OutcomePlaced], o[model.OutcomePartial], o[model.OutcomeAbstained], o[model.OutcomeCanceled])
	}
	if err := w.Flush(); err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(out, "simulated %s, stolen %.0f, processes %d\n",
		time.Duration(c.passes)*c.step, sim.Stolen(), len(sim.Processes()))
	return nil
}

type serveSimCmd struct {
	scenario string
	addr     string
}

func (c *serveSimCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-sim",
		Short: "Serve a simulated network over the bridge protocol for local runs",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&c.scenario, "scenario", "s", "", "path of the YAML scenario")
	cmd.Flags().StringVar(&c.addr, "addr", "127.0.0.1:12525", "listen address")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func (c *serveSimCmd) run(_ *cli, _ *cobra.Command, _ []string) error {
	scenario, err := hostsim.LoadScenario(c.scenario)
	if err != nil {
		return err
	}
	sim := hostsim.New(scenario, clock.New())

	mux := http.NewServeMux()
	mux.Handle("/bridge", wsbridge.NewHandler(sim))
	srv := &http.Server{Addr: c.addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.L().Info("simulated bridge listening", zap.String("addr", c.addr), zap.String("scenario", c.scenario))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Annotatef(err, "serve bridge on %s", c.addr)
	}
	return nil
}
