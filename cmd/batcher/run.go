package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanfei1991/batcher/driver"
	"github.com/hanfei1991/batcher/pkg/journal"
	"github.com/hanfei1991/batcher/pkg/promutil"
	"github.com/hanfei1991/batcher/pkg/wsbridge"
)

const shutdownTimeout = 5 * time.Second

type runCmd struct{}

func (c *runCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the in-game bridge and schedule batches until interrupted",
		Args:  cobra.NoArgs,
	}
}

func (c *runCmd) run(cl *cli, _ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.L().Info("starting batcher", zap.Stringer("config", cl.cfg))

	client, err := wsbridge.Dial(ctx, cl.cfg.Bridge)
	if err != nil {
		return err
	}
	defer client.Close()

	reg := promutil.NewProcessRegistry()
	opts := []driver.Option{driver.WithFactory(promutil.NewFactory(reg, "", nil))}
	if cl.cfg.JournalPath != "" {
		j, err := journal.Open(cl.cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, driver.WithRecorder(j))
	}

	d := driver.NewDriver(cl.cfg, client, opts...)
	return runWithStatus(ctx, cl.cfg.StatusAddr, d, reg)
}

// runWithStatus runs d and, when addr is set, the status server next to it.
// Both stop once ctx is done or either of them fails.
func runWithStatus(ctx context.Context, addr string, d *driver.Driver, reg *promutil.Registry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(gctx)
	})

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promutil.HTTPHandler(reg))
		d.RegisterHandlers(mux)
		srv := &http.Server{Addr: addr, Handler: mux}

		g.Go(func() error {
			log.L().Info("status server listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Annotatef(err, "serve status on %s", addr)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.Trace(srv.Shutdown(sctx))
		})
	}

	err := g.Wait()
	log.L().Info("batcher stopped", zap.Int64("iterations", d.Iterations()), zap.Error(err))
	return err
}
