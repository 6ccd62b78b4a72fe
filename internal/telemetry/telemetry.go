// Package telemetry records per-stage gateway events as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"trustproxy/internal/core"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustproxy_requests_total",
			Help: "Total proxied requests by upstream host, method, and final status code",
		},
		[]string{"host", "method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustproxy_request_duration_seconds",
			Help:    "End-to-end request duration by upstream host and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "method"},
	)

	stageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustproxy_stage_transitions_total",
			Help: "Request state machine transitions by stage",
		},
		[]string{"stage"},
	)

	entitiesRedacted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustproxy_entities_redacted_total",
			Help: "PII entities replaced with placeholders, by entity type",
		},
		[]string{"entity_type"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustproxy_rejections_total",
			Help: "Requests rejected before forwarding, by error type",
		},
		[]string{"error_type"},
	)
)

// Prometheus implements core.Collector on the default Prometheus registry.
type Prometheus struct{}

// NewPrometheus returns the Prometheus-backed collector.
func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

// Record implements core.Collector. It never blocks and never fails the
// request path.
func (Prometheus) Record(event core.Event) {
	stageTransitions.WithLabelValues(string(event.Stage)).Inc()

	switch event.Stage {
	case core.StageRedacted:
		for entityType, n := range event.EntityCounts {
			entitiesRedacted.WithLabelValues(entityType).Add(float64(n))
		}
	case core.StageRejected:
		rejectionsTotal.WithLabelValues(event.ErrorType).Inc()
	}

	if terminal(event.Stage) {
		requestsTotal.WithLabelValues(event.Host, event.Method, statusLabel(event.Status)).Inc()
		requestDuration.WithLabelValues(event.Host, event.Method).Observe(event.Duration.Seconds())
	}
}

func terminal(stage core.Stage) bool {
	switch stage {
	case core.StageReturned, core.StageRejected, core.StageUpstreamFailed:
		return true
	}
	return false
}

func statusLabel(status int) string {
	// Bucket to the class to keep label cardinality down.
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// Noop discards every event. Used when metrics are disabled and in tests.
type Noop struct{}

// NewNoop returns a collector that discards everything.
func NewNoop() *Noop { return &Noop{} }

// Record implements core.Collector.
func (Noop) Record(core.Event) {}
