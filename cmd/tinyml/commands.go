package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tiny-ml-lab/internal/dataset"
	"tiny-ml-lab/internal/gridworld"
	"tiny-ml-lab/internal/kmeans"
	"tiny-ml-lab/internal/regression"
	"tiny-ml-lab/internal/stepper"
)

const progressEvery = time.Second

// continuousEngine is the part of every engine a continuous run needs.
type continuousEngine interface {
	StartContinuous(ctx context.Context) bool
	Done() <-chan struct{}
}

// runContinuous starts e and blocks until its run ends, calling progress
// periodically. A cancelled ctx ends the run early and is not an error.
func runContinuous(ctx context.Context, e continuousEngine, progress func()) error {
	if !e.StartContinuous(ctx) {
		return fmt.Errorf("start continuous run: %w", stepper.ErrBusy)
	}
	done := e.Done()
	ticker := time.NewTicker(progressEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			if progress != nil {
				progress()
			}
		}
	}
}

type stepFlags struct {
	steps int
	json  bool
}

func (f *stepFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.steps, "step", 0, "run step mode for N phase transitions instead of continuous mode")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the final snapshot as JSON")
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) mazeCmd() *cobra.Command {
	var (
		flags    stepFlags
		episodes int
		demo     bool
	)
	cmd := &cobra.Command{
		Use:   "maze",
		Short: "Train a Q-learning agent on the 10x10 maze",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.GridWorldConfig()
			if cmd.Flags().Changed("episodes") {
				cfg.MaxEpisodes = episodes
			}
			trainer, err := gridworld.NewTrainer(cfg, a.logger)
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.grid = trainer
			a.mu.Unlock()

			if flags.steps > 0 {
				trainer.StartStepMode()
				for i := 0; i < flags.steps; i++ {
					snap, ok := trainer.AdvanceStep()
					if !ok {
						break
					}
					printGridStep(a.out, snap)
				}
				trainer.StopStepMode()
			} else {
				fmt.Fprintf(a.out, "maze config => episodes=%d seed=%d alpha=%.2f gamma=%.2f epsilon=%.2f interval=%s\n",
					cfg.MaxEpisodes, cfg.Seed, cfg.Alpha, cfg.Gamma, cfg.Epsilon, cfg.Interval)
				err := runContinuous(cmd.Context(), trainer, func() {
					printGridProgress(a.out, trainer.Snapshot())
				})
				if err != nil {
					return err
				}
			}

			snap := trainer.Snapshot()
			if flags.json {
				return a.printJSON(snap)
			}
			printGridSummary(a.out, snap, trainer.BestPath())
			if demo {
				if path, ok := trainer.Demonstrate(); ok {
					printPath(a.out, "demonstration", path)
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&episodes, "episodes", 0, "stop after this many episodes (0 trains until interrupted)")
	cmd.Flags().BoolVar(&demo, "demo", false, "replay the greedy policy after training")
	return cmd
}

func (a *app) regressCmd() *cobra.Command {
	var (
		flags    stepFlags
		scenario string
		epochs   int
		lr       float64
		predict  []float64
	)
	cmd := &cobra.Command{
		Use:   "regress",
		Short: "Fit a line to a synthetic scenario by gradient descent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.RegressionConfig()
			if scenario != "" {
				cfg.Scenario = scenario
			}
			if epochs > 0 {
				cfg.Epochs = epochs
			}
			if lr > 0 {
				cfg.LearningRate = lr
			}
			trainer, err := regression.NewTrainer(cfg, a.logger)
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.reg = trainer
			a.mu.Unlock()

			if flags.steps > 0 {
				trainer.StartStepMode()
				for i := 0; i < flags.steps; i++ {
					snap, ok := trainer.AdvanceStep()
					if !ok {
						break
					}
					printRegressionStep(a.out, snap)
				}
				trainer.StopStepMode()
			} else {
				fmt.Fprintf(a.out, "regress config => scenario=%s samples=%d epochs=%d lr=%.3f interval=%s\n",
					cfg.Scenario, cfg.Samples, cfg.Epochs, cfg.LearningRate, cfg.Interval)
				err := runContinuous(cmd.Context(), trainer, func() {
					printRegressionProgress(a.out, trainer.Snapshot())
				})
				if err != nil {
					return err
				}
			}

			snap := trainer.Snapshot()
			if flags.json {
				return a.printJSON(snap)
			}
			printRegressionSummary(a.out, snap)
			for _, x := range predict {
				fmt.Fprintf(a.out, "predict(%.3f) = %.4f\n", x, trainer.Predict(x))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&scenario, "scenario", "", fmt.Sprintf("data scenario, one of %v", dataset.ScenarioNames()))
	cmd.Flags().IntVar(&epochs, "epochs", 0, "epoch limit (0 keeps the config value)")
	cmd.Flags().Float64Var(&lr, "lr", 0, "learning rate (0 keeps the config value)")
	cmd.Flags().Float64SliceVar(&predict, "predict", nil, "x values to evaluate with the trained line")
	return cmd
}

func (a *app) clusterCmd() *cobra.Command {
	var (
		flags   stepFlags
		k       int
		kind    string
		maxIter int
	)
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster synthetic 2-D points with k-means",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.KMeansConfig()
			if k > 0 {
				cfg.K = k
			}
			if kind != "" {
				cfg.Kind = dataset.Kind(kind)
			}
			if maxIter > 0 {
				cfg.MaxIterations = maxIter
			}
			clusterer, err := kmeans.NewClusterer(cfg, a.logger)
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.km = clusterer
			a.mu.Unlock()

			if flags.steps > 0 {
				if !clusterer.StartStepMode() {
					return fmt.Errorf("cannot cluster %d points into %d clusters: %w", cfg.Points, cfg.K, kmeans.ErrInvalidK)
				}
				for i := 0; i < flags.steps; i++ {
					snap, ok := clusterer.AdvanceStep()
					if !ok {
						break
					}
					printClusterStep(a.out, snap)
				}
				clusterer.StopStepMode()
			} else {
				fmt.Fprintf(a.out, "cluster config => kind=%s points=%d k=%d max_iterations=%d interval=%s\n",
					cfg.Kind, cfg.Points, cfg.K, cfg.MaxIterations, cfg.Interval)
				err := runContinuous(cmd.Context(), clusterer, func() {
					printClusterProgress(a.out, clusterer.Snapshot())
				})
				if err != nil {
					return err
				}
			}

			snap := clusterer.Snapshot()
			if flags.json {
				return a.printJSON(snap)
			}
			printClusterSummary(a.out, snap)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&k, "k", 0, "number of clusters (0 keeps the config value)")
	cmd.Flags().StringVar(&kind, "kind", "", "dataset kind: blobs or random")
	cmd.Flags().IntVar(&maxIter, "max-iterations", 0, "iteration cap (0 keeps the config value)")
	return cmd
}

// allCmd trains the three engines side by side. They share nothing, so each
// runs on its own goroutine.
func (a *app) allCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run the maze, regression and clustering engines concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			grid, err := gridworld.NewTrainer(a.cfg.GridWorldConfig(), a.logger)
			if err != nil {
				return err
			}
			reg, err := regression.NewTrainer(a.cfg.RegressionConfig(), a.logger)
			if err != nil {
				return err
			}
			km, err := kmeans.NewClusterer(a.cfg.KMeansConfig(), a.logger)
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.grid, a.reg, a.km = grid, reg, km
			a.mu.Unlock()

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return runContinuous(ctx, grid, nil) })
			g.Go(func() error { return runContinuous(ctx, reg, nil) })
			g.Go(func() error { return runContinuous(ctx, km, nil) })
			if err := g.Wait(); err != nil {
				return err
			}

			printGridSummary(a.out, grid.Snapshot(), grid.BestPath())
			printRegressionSummary(a.out, reg.Snapshot())
			printClusterSummary(a.out, km.Snapshot())
			return nil
		},
	}
}
