package kmeans

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	iterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinyml_kmeans_iterations_total",
		Help: "Completed assign/update iterations",
	})

	runsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyml_kmeans_runs_finished_total",
		Help: "Clustering runs that ended on their own, by outcome (converged or iterationCap)",
	}, []string{"outcome"})

	inertiaGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinyml_kmeans_inertia",
		Help: "Inertia after the most recent update phase",
	})
)
