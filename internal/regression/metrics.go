package regression

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	epochsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinyml_regression_epochs_total",
		Help: "Gradient descent epochs applied",
	})

	lossGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinyml_regression_loss",
		Help: "Mean squared error after the most recent epoch",
	})
)
