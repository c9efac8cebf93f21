package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_notifier_scheduler_ticks_total",
			Help: "Total number of scheduler ticks by outcome",
		},
		[]string{"outcome"}, // idle, evaluated, refresh_failed, overlapped, panicked
	)

	rulesDueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_notifier_scheduler_rules_due_total",
			Help: "Total number of rules found due",
		},
	)

	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_notifier_scheduler_evaluations_total",
			Help: "Total number of rule evaluations by result",
		},
		[]string{"result"}, // notified, baseline, unavailable
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_notifier_notifications_total",
			Help: "Total number of notifications decided, by direction",
		},
		[]string{"direction"},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rate_notifier_scheduler_tick_duration_seconds",
			Help:    "Duration of a scheduler tick",
			Buckets: prometheus.DefBuckets,
		},
	)
)
