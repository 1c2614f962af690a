package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"tiny-ml-lab/internal/config"
	"tiny-ml-lab/internal/gridworld"
	"tiny-ml-lab/internal/kmeans"
	"tiny-ml-lab/internal/regression"
	"tiny-ml-lab/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp(os.Stdout, os.Stderr)
	err := a.rootCmd().ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tinyml: %v\n", err)
		os.Exit(1)
	}
}

// app carries what the persistent flags set up for every subcommand.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath  string
	seed        int64
	logLevel    string
	metricsAddr string
	trace       bool
	watch       bool

	cfg    config.Config
	logger *slog.Logger

	cancelBackground context.CancelFunc
	background       sync.WaitGroup
	shutdownTracing  telemetry.ShutdownFunc
	watcher          *config.Watcher

	mu   sync.Mutex
	grid *gridworld.Trainer
	reg  *regression.Trainer
	km   *kmeans.Clusterer
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tinyml",
		Short:         "Train tiny learning algorithms step by step or continuously",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.Int64Var(&a.seed, "seed", 0, "random seed for data and exploration (0 keeps the config value)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.BoolVar(&a.trace, "trace", false, "export tick spans to stderr")
	flags.BoolVar(&a.watch, "watch", false, "reload pacing intervals when the config file changes")

	root.AddCommand(
		a.mazeCmd(),
		a.regressCmd(),
		a.clusterCmd(),
		a.allCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.seed != 0 {
		cfg.Seed = a.seed
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	if a.trace {
		cfg.Trace = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := telemetry.NewLogger(a.errOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger

	shutdown, err := telemetry.InitTracing(a.errOut, cfg.Trace, "tinyml", version)
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown

	ctx, cancel := context.WithCancel(cmd.Context())
	a.cancelBackground = cancel
	if cfg.MetricsAddr != "" {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			if err := telemetry.ServeMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics endpoint stopped", slog.Any("error", err))
			}
		}()
	}
	if a.watch && a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyIntervals, logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		a.watcher = w
	}
	return nil
}

// applyIntervals pushes reloaded pacing to whichever engines are running.
func (a *app) applyIntervals(cfg config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grid != nil {
		a.grid.SetInterval(cfg.GridWorld.Interval.Std())
	}
	if a.reg != nil {
		a.reg.SetInterval(cfg.Regression.Interval.Std())
	}
	if a.km != nil {
		a.km.SetInterval(cfg.KMeans.Interval.Std())
	}
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.cancelBackground != nil {
		a.cancelBackground()
	}
	a.background.Wait()
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("flush traces", slog.Any("error", err))
		}
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tinyml version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "tinyml %s\n", version)
		},
	}
}
