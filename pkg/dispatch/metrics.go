package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

type metrics struct {
	// enqueued counts tasks accepted by Enqueue.
	enqueued prometheus.Counter

	// rejected counts Enqueue calls refused (unsupported environment, closed, nil task).
	rejected prometheus.Counter

	// executed counts tasks run by Drain.
	// Labels:
	//   - status: "success" or "failed"
	executed *prometheus.CounterVec

	// pending tracks the number of tasks waiting for the next drain.
	pending prometheus.Gauge

	// drainDuration tracks how long one non-empty drain cycle holds the main goroutine.
	drainDuration prometheus.Histogram

	// queueLatency tracks the time a task waits between Enqueue and the start of its drain.
	queueLatency prometheus.Histogram
}

// newMetrics builds the collectors. A nil registerer leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "editorbridge_dispatch_enqueued_total",
			Help: "The total number of tasks queued for the main thread",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "editorbridge_dispatch_rejected_total",
			Help: "The total number of refused enqueue calls",
		}),
		executed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "editorbridge_dispatch_executed_total",
			Help: "The total number of main-thread tasks executed",
		}, []string{"status"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "editorbridge_dispatch_pending",
			Help: "Number of tasks waiting for the next drain",
		}),
		drainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "editorbridge_dispatch_drain_duration_seconds",
			Help:    "Duration of a drain cycle",
			Buckets: prometheus.DefBuckets,
		}),
		queueLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "editorbridge_dispatch_queue_latency_seconds",
			Help:    "Time spent in queue before the drain that executes the task",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
