package stepper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ticksTotal counts applied continuous-mode ticks per engine.
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyml_ticks_total",
		Help: "Continuous-mode ticks applied, by engine",
	}, []string{"engine"})

	// staleTicksTotal counts ticks discarded because their run was stopped or reset.
	staleTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyml_stale_ticks_total",
		Help: "Ticks discarded after their run was cancelled, by engine",
	}, []string{"engine"})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tinyml_tick_duration_seconds",
		Help:    "Time spent computing one tick, by engine",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10), // 1µs to ~260ms
	}, []string{"engine"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyml_runs_total",
		Help: "Sessions started, by engine and mode",
	}, []string{"engine", "mode"})
)
