package rates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_notifier_rates_refresh_total",
			Help: "Total number of rate table refreshes by result",
		},
		[]string{"result"},
	)

	refreshAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_notifier_rates_fetch_attempts_total",
			Help: "Total number of HTTP fetch attempts against the rate source",
		},
	)

	refreshLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rate_notifier_rates_refresh_duration_seconds",
			Help:    "Duration of a full refresh including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	snapshotSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_notifier_rates_snapshot_currencies",
			Help: "Number of currencies in the current rate snapshot",
		},
	)
)
