// Package metrics holds the collector's own Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mysql_collector"

var (
	// CyclesTotal counts poll cycles per instance by result (ok, error, skipped).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Poll cycles run per instance and result",
	}, []string{"instance", "result"})

	// CycleDuration tracks how long one poll, reconcile and persist cycle takes.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one poll cycle",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"instance"})

	// TrackedQueries is the size of the in-memory working set of each instance.
	TrackedQueries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_queries",
		Help:      "Long-running queries currently tracked per instance",
	}, []string{"instance"})

	// CompletedQueriesTotal counts completed queries by persistence outcome (inserted, duplicate, error).
	CompletedQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "completed_queries_total",
		Help:      "Completed slow queries detected per instance and persistence outcome",
	}, []string{"instance", "outcome"})

	// PoolUnavailable is 1 for an instance whose pool creation attempts are exhausted.
	PoolUnavailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_unavailable",
		Help:      "Instances marked unavailable after exhausting connection retries",
	}, []string{"instance"})

	// CollectorErrorsTotal counts failures of the periodic collectors.
	CollectorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collector_errors_total",
		Help:      "Errors of periodic collectors per collector and instance",
	}, []string{"collector", "instance"})
)

// Forget removes the per-instance series of an instance that left the registry.
func Forget(instance string) {
	TrackedQueries.DeleteLabelValues(instance)
	PoolUnavailable.DeleteLabelValues(instance)
	CycleDuration.DeleteLabelValues(instance)
}
