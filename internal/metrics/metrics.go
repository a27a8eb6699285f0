// Package metrics holds the Prometheus collectors for recovery runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// engineAttempts counts engine invocations by tool, stage and result.
	engineAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unfreeze_engine_attempts_total",
		Help: "Engine invocations by tool, stage and result",
	}, []string{"tool", "stage", "result"})

	// engineDuration tracks wall-clock time per invocation.
	engineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unfreeze_engine_duration_seconds",
		Help:    "Engine invocation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~5min
	}, []string{"tool", "stage"})

	unitOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unfreeze_unit_outcomes_total",
		Help: "Units reaching a terminal category",
	}, []string{"category"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unfreeze_runs_total",
		Help: "Recovery runs by result",
	}, []string{"result"})
)

// ObserveAttempt records one engine invocation. result is "ok" or a reason code.
func ObserveAttempt(tool, stage, result string, d time.Duration) {
	if result == "" {
		result = "ok"
	}
	engineAttempts.WithLabelValues(tool, stage, result).Inc()
	engineDuration.WithLabelValues(tool, stage).Observe(d.Seconds())
}

func ObserveOutcome(category string) {
	unitOutcomes.WithLabelValues(category).Inc()
}

func ObserveRun(result string) {
	runsTotal.WithLabelValues(result).Inc()
}
