package main

import (
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hanfei1991/batcher/lib/config"
	"github.com/hanfei1991/batcher/pkg/logutil"
)

// command is implemented by every subcommand. registerFlags builds the cobra
// command and run is called after the config has been loaded.
type command interface {
	registerFlags() *cobra.Command
	run(cl *cli, cmd *cobra.Command, args []string) error
}

type cli struct {
	rootCmd    *cobra.Command
	configPath string
	overrides  overrides

	cfg *config.Config
}

func newCLI() *cli {
	cl := &cli{}
	cl.rootCmd = &cobra.Command{
		Use:           "batcher",
		Short:         "batcher schedules hack/grow/weaken batches across the host fleet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cl.rootCmd.PersistentFlags()
	flags.StringVarP(&cl.configPath, "config", "c", "", "path of the TOML config file")
	cl.overrides.register(flags)

	cl.addCmd(&runCmd{})
	cl.addCmd(&simulateCmd{})
	cl.addCmd(&serveSimCmd{})
	cl.addCmd(&planCmd{})
	cl.addCmd(&historyCmd{})
	cl.addCmd(&configCmd{})
	return cl
}

func (cl *cli) addCmd(c command) {
	cmd := c.registerFlags()
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cl.loadConfig(cmd.Flags()); err != nil {
			return err
		}
		return c.run(cl, cmd, args)
	}
	cl.rootCmd.AddCommand(cmd)
}

// loadConfig reads the config file, applies the flags the user set and
// initializes the global logger.
func (cl *cli) loadConfig(flags *pflag.FlagSet) error {
	cfg := config.NewConfig()
	if cl.configPath != "" {
		if err := cfg.ConfigFromFile(cl.configPath); err != nil {
			return err
		}
	}
	cl.overrides.apply(flags, cfg)
	if err := cfg.Adjust(); err != nil {
		return err
	}
	if err := logutil.InitLogger(cfg.Log); err != nil {
		return errors.Annotate(err, "init logger")
	}
	cl.cfg = cfg
	return nil
}

// overrides are the config items that can be set from the command line.
// Only flags that were given on the command line replace file values.
type overrides struct {
	logLevel      string
	logFile       string
	baseFraction  float64
	floorFraction float64
	strategy      string
	hostOrder     string
	targets       []string
	bridgeURL     string
	statusAddr    string
	journalPath   string
}

func (o *overrides) register(flags *pflag.FlagSet) {
	flags.StringVarP(&o.logLevel, "log-level", "L", "", "log level: debug, info, warn, error")
	flags.StringVar(&o.logFile, "log-file", "", "log file path")
	flags.Float64Var(&o.baseFraction, "base-fraction", 0, "fraction every cycle starts searching from")
	flags.Float64Var(&o.floorFraction, "floor-fraction", 0, "smallest fraction worth a batch")
	flags.StringVar(&o.strategy, "strategy", "", "fraction search strategy: binary or geometric")
	flags.StringVar(&o.hostOrder, "host-order", "", "host packing order: snapshot or free-desc")
	flags.StringSliceVar(&o.targets, "targets", nil, "fixed target list, disables target survey")
	flags.StringVar(&o.bridgeURL, "bridge-url", "", "websocket url of the in-game bridge")
	flags.StringVar(&o.statusAddr, "status-addr", "", "listen address of the status and metrics server")
	flags.StringVar(&o.journalPath, "journal", "", "path of the sqlite cycle journal")
}

func (o *overrides) apply(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = o.logFile
	}
	if flags.Changed("base-fraction") {
		cfg.Scheduler.BaseFraction = o.baseFraction
	}
	if flags.Changed("floor-fraction") {
		cfg.Scheduler.FloorFraction = o.floorFraction
	}
	if flags.Changed("strategy") {
		cfg.Scheduler.Strategy = o.strategy
	}
	if flags.Changed("host-order") {
		cfg.Scheduler.HostOrder = o.hostOrder
	}
	if flags.Changed("targets") {
		cfg.Driver.Targets = o.targets
	}
	if flags.Changed("bridge-url") {
		cfg.Bridge.URL = o.bridgeURL
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr = o.statusAddr
	}
	if flags.Changed("journal") {
		cfg.JournalPath = o.journalPath
	}
}
