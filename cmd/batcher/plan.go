package main

import (
	"context"
	"encoding/json"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"github.com/hanfei1991/batcher/driver"
	"github.com/hanfei1991/batcher/pkg/clock"
	"github.com/hanfei1991/batcher/pkg/hostapi"
	"github.com/hanfei1991/batcher/pkg/hostsim"
	"github.com/hanfei1991/batcher/pkg/wsbridge"
)

type planCmd struct {
	scenario string
	fraction float64
}

func (c *planCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan TARGET...",
		Short: "Print the batch plan for targets and whether it fits, launching nothing",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVarP(&c.scenario, "scenario", "s", "", "plan against a YAML scenario instead of the bridge")
	cmd.Flags().Float64VarP(&c.fraction, "fraction", "f", 0, "extraction fraction, defaults to the base fraction")
	return cmd
}

func (c *planCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	fraction := cl.cfg.Scheduler.BaseFraction
	if cmd.Flags().Changed("fraction") {
		fraction = c.fraction
	}
	if fraction <= 0 || fraction > 1 {
		return errors.Errorf("fraction must be in (0, 1], got %v", fraction)
	}

	var host hostapi.Host
	if c.scenario != "" {
		scenario, err := hostsim.LoadScenario(c.scenario)
		if err != nil {
			return err
		}
		host = hostsim.New(scenario, clock.New())
	} else {
		client, err := wsbridge.Dial(ctx, cl.cfg.Bridge)
		if err != nil {
			return err
		}
		defer client.Close()
		host = client
	}

	d := driver.NewDriver(cl.cfg, host)
	results := make([]*driver.PreviewResult, 0, len(args))
	for _, target := range args {
		res, err := d.Preview(ctx, target, fraction)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return errors.Trace(enc.Encode(results))
}
