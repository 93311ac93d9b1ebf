package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Operation metrics
	OperationsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbridge_operations_submitted_total",
			Help: "Total number of operations submitted by provider and kind",
		},
		[]string{"provider", "kind"},
	)

	OperationsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbridge_operations_completed_total",
			Help: "Total number of operations completed by provider and kind",
		},
		[]string{"provider", "kind"},
	)

	OperationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbridge_operations_failed_total",
			Help: "Total number of operations terminally failed by provider and kind",
		},
		[]string{"provider", "kind"},
	)

	OperationsRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbridge_operations_retried_total",
			Help: "Total number of retry re-enqueues by provider",
		},
		[]string{"provider"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncbridge_queue_depth",
			Help: "Number of operations per queue tier",
		},
		[]string{"tier"},
	)

	// Rate limit metrics
	RateLimitUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncbridge_rate_limit_utilization",
			Help: "Token bucket utilization per provider (0 = idle, 1 = exhausted)",
		},
		[]string{"provider"},
	)

	// Dispatch metrics
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncbridge_dispatch_duration_seconds",
			Help:    "Outbound dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsSubmitted,
		OperationsCompleted,
		OperationsFailed,
		OperationsRetried,
		QueueDepth,
		RateLimitUtilization,
		DispatchDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
