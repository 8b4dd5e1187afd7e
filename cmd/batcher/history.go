package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"github.com/hanfei1991/batcher/pkg/journal"
)

type historyCmd struct {
	target  string
	limit   int
	summary bool
}

func (c *historyCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded cycles from the journal",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVarP(&c.target, "target", "t", "", "only show cycles of this target")
	cmd.Flags().IntVarP(&c.limit, "limit", "n", 20, "number of cycles to show")
	cmd.Flags().BoolVar(&c.summary, "summary", false, "show per-target totals instead of single cycles")
	return cmd
}

func (c *historyCmd) run(cl *cli, cmd *cobra.Command, _ []string) error {
	if cl.cfg.JournalPath == "" {
		return errors.New("no journal configured, set journal-path or --journal")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	j, err := journal.Open(cl.cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if c.summary {
		summaries, err := j.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "TARGET\tCYCLES\tPLACED\tPARTIAL\tABSTAINED\tAVG FRACTION\tLAUNCHED\tSHORTFALL\tLAST")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.6f\t%d\t%d\t%s\n", s.Target, s.Cycles,
				s.Placed, s.Partial, s.Abstained, s.AvgFraction, s.Launched, s.Shortfall,
				s.LastRecorded.Format(time.RFC3339))
		}
		return errors.Trace(w.Flush())
	}

	entries, err := j.Recent(ctx, c.target, c.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TIME\tTARGET\tOUTCOME\tFRACTION\tLAUNCHED\tSHORTFALL\tBATCH")
	for _, e := range entries {
		r := e.Report
		fmt.Fprintf(w, "%s\t%s\t%s\t%.6f\t%d\t%d\t%s\n", e.RecordedAt.Format(time.RFC3339),
			r.Target, r.Outcome, r.FractionUsed, r.TotalLaunched(), r.TotalShortfall(), r.BatchID)
	}
	return errors.Trace(w.Flush())
}

type configCmd struct{}

func (c *configCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
	}
}

func (c *configCmd) run(cl *cli, cmd *cobra.Command, _ []string) error {
	out, err := cl.cfg.Toml()
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return errors.Trace(err)
}
