// Package metrics defines the Prometheus instrumentation for the bridge and
// the worker, plus the HTTP handler that exposes it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatbridge"

// Bridge holds the front-end counters: publishes, resolutions, and the
// failure modes that would otherwise be invisible (swallowed publish errors,
// correlation misses, consumer restarts).
type Bridge struct {
	RequestsPublished prometheus.Counter
	PublishFailures   prometheus.Counter
	ResponsesResolved prometheus.Counter
	CorrelationMisses prometheus.Counter
	ConsumerRestarts  prometheus.Counter
}

// NewBridge registers and returns the front-end metric set.
func NewBridge(reg prometheus.Registerer) *Bridge {
	b := &Bridge{
		RequestsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_published_total",
			Help:      "Requests published to the request queue.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Requests that failed to reach the broker.",
		}),
		ResponsesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_resolved_total",
			Help:      "Responses matched to a pending ledger entry.",
		}),
		CorrelationMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_misses_total",
			Help:      "Responses dropped because no ledger entry matched.",
		}),
		ConsumerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_restarts_total",
			Help:      "Times the supervised response consumer was restarted.",
		}),
	}
	reg.MustRegister(
		b.RequestsPublished,
		b.PublishFailures,
		b.ResponsesResolved,
		b.CorrelationMisses,
		b.ConsumerRestarts,
	)
	return b
}

// Worker holds the worker-side counters and processing duration histogram.
type Worker struct {
	Processed prometheus.Counter
	Failures  prometheus.Counter
	Poisoned  prometheus.Counter
	Duration  prometheus.Histogram
}

// NewWorker registers and returns the worker metric set.
func NewWorker(reg prometheus.Registerer) *Worker {
	w := &Worker{
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "processed_total",
			Help:      "Requests processed and answered successfully.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "failures_total",
			Help:      "Deliveries that failed and were returned for redelivery.",
		}),
		Poisoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "poisoned_total",
			Help:      "Deliveries routed to the poison queue after exhausting attempts.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "generate_duration_seconds",
			Help:      "Time spent generating a response.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(w.Processed, w.Failures, w.Poisoned, w.Duration)
	return w
}

// RegisterPendingGauge exposes the ledger depth as a gauge without coupling
// the ledger to this package.
func RegisterPendingGauge(reg prometheus.Registerer, depth func() float64) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_requests",
		Help:      "Ledger entries currently awaiting a response.",
	}, depth))
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
