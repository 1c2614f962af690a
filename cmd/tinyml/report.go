package main

import (
	"fmt"
	"io"
	"strings"

	"tiny-ml-lab/internal/gridworld"
	"tiny-ml-lab/internal/kmeans"
	"tiny-ml-lab/internal/regression"
)

func printGridStep(w io.Writer, s gridworld.Snapshot) {
	fmt.Fprintf(w, "step phase=%s episode=%d moves=%d agent=(%d,%d)", s.Phase, s.Episode, s.Moves, s.Agent.X, s.Agent.Y)
	if m := s.Move; m != nil {
		switch s.Phase {
		case gridworld.PhaseMakingMove:
			fmt.Fprintf(w, " action=%s target=(%d,%d)", m.Action, m.Attempted.X, m.Attempted.Y)
		case gridworld.PhaseCalculatingReward:
			fmt.Fprintf(w, " action=%s reward=%.2f blocked=%t", m.Action, m.Reward, m.Blocked)
		case gridworld.PhaseUpdatingQTable:
			fmt.Fprintf(w, " q(%d,%d,%s): %.4f -> %.4f", m.From.X, m.From.Y, m.Action, m.OldQ, m.NewQ)
		}
	}
	fmt.Fprintln(w)
}

func printGridProgress(w io.Writer, s gridworld.Snapshot) {
	fmt.Fprintf(w, "episode %d: successes=%d success_rate=%.2f epsilon=%.3f\n", s.Episode, s.Successes, s.SuccessRate, s.Epsilon)
}

func printGridSummary(w io.Writer, s gridworld.Snapshot, best []gridworld.Position) {
	avgSteps := 0.0
	if s.Episode > 0 {
		avgSteps = float64(s.TotalSteps) / float64(s.Episode)
	}
	fmt.Fprintf(w, "maze summary: episodes=%d successes=%d success_rate=%.2f avg_steps=%.2f epsilon=%.3f states=%d\n",
		s.Episode, s.Successes, s.SuccessRate, avgSteps, s.Epsilon, s.StatesVisited)
	printPath(w, "best path", best)
	fmt.Fprintln(w, "value map:")
	for y, row := range s.ValueMap {
		for x, v := range row {
			if s.Grid[y][x] == gridworld.CellWall {
				fmt.Fprint(w, "   ### ")
				continue
			}
			fmt.Fprintf(w, "%6.1f ", v)
		}
		fmt.Fprintln(w)
	}
}

func printPath(w io.Writer, label string, path []gridworld.Position) {
	cells := make([]string, len(path))
	for i, p := range path {
		cells[i] = fmt.Sprintf("(%d,%d)", p.X, p.Y)
	}
	fmt.Fprintf(w, "%s (%d cells): %s\n", label, len(path), strings.Join(cells, " "))
}

func printRegressionStep(w io.Writer, s regression.Snapshot) {
	fmt.Fprintf(w, "step phase=%s epoch=%d", s.Phase, s.Epoch)
	switch s.Phase {
	case regression.PhaseMakingPrediction:
		fmt.Fprintf(w, " predictions=%d first=%.4f", len(s.Predictions), first(s.Predictions))
	case regression.PhaseCalculatingError:
		fmt.Fprintf(w, " residuals=%d first=%.4f", len(s.Residuals), first(s.Residuals))
	default:
		fmt.Fprintf(w, " grad=(%.4f,%.4f) |grad|=%.4f slope=%.4f intercept=%.4f loss=%.5f",
			s.GradientSlope, s.GradientIntercept, s.GradientMagnitude, s.Slope, s.Intercept, s.Loss)
	}
	fmt.Fprintln(w)
}

func first(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[0]
}

func printRegressionProgress(w io.Writer, s regression.Snapshot) {
	fmt.Fprintf(w, "epoch %d/%d: loss=%.5f\n", s.Epoch, s.Epochs, s.Loss)
}

func printRegressionSummary(w io.Writer, s regression.Snapshot) {
	fmt.Fprintf(w, "regress summary: scenario=%s epochs=%d slope=%.4f intercept=%.4f (true %.2f, %.2f) loss=%.5f quality=%s\n",
		s.Scenario.Name, s.Epoch, s.Slope, s.Intercept, s.Scenario.Slope, s.Scenario.Intercept, s.Loss, s.Quality)
}

func printClusterStep(w io.Writer, s kmeans.Snapshot) {
	fmt.Fprintf(w, "step phase=%s iteration=%d", s.Phase, s.Iteration)
	if s.Phase == kmeans.PhaseAssignment {
		fmt.Fprintf(w, " reassigned=%d sizes=%v", s.Reassigned, s.ClusterSizes)
	} else {
		fmt.Fprintf(w, " inertia=%.4f converged=%t", s.Inertia, s.Converged)
	}
	fmt.Fprintln(w)
}

func printClusterProgress(w io.Writer, s kmeans.Snapshot) {
	fmt.Fprintf(w, "iteration %d/%d: inertia=%.4f\n", s.Iteration, s.MaxIterations, s.Inertia)
}

func printClusterSummary(w io.Writer, s kmeans.Snapshot) {
	outcome := s.Outcome
	if outcome == kmeans.OutcomeNone {
		outcome = "stopped"
	}
	fmt.Fprintf(w, "cluster summary: kind=%s k=%d iterations=%d inertia=%.4f outcome=%s sizes=%v\n",
		s.Kind, s.K, s.Iteration, s.Inertia, outcome, s.ClusterSizes)
	for _, c := range s.Centroids {
		fmt.Fprintf(w, "  centroid %d: (%.3f, %.3f)\n", c.Cluster, c.X, c.Y)
	}
}
