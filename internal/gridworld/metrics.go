package gridworld

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	episodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyml_gridworld_episodes_total",
		Help: "Completed Q-learning episodes by outcome (goal or timeout)",
	}, []string{"outcome"})

	movesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinyml_gridworld_moves_total",
		Help: "Agent moves applied across all episodes",
	})

	epsilonGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinyml_gridworld_epsilon",
		Help: "Current exploration rate of the most recently updated agent",
	})
)
