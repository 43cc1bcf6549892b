// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	MatchesFormed    *prometheus.CounterVec
	MatchesFinished  *prometheus.CounterVec
	ActiveMatches    *prometheus.GaugeVec
	QueueWaiting     *prometheus.GaugeVec
	Verifications    *prometheus.CounterVec
	RatingDelta      prometheus.Histogram
	OperationErrors  *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		MatchesFormed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladder", Name: "matches_formed_total",
			Help: "Matches formed, by queue or challenge mode.",
		}, []string{"queue"}),
		MatchesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladder", Name: "matches_finished_total",
			Help: "Matches reaching a terminal state.",
		}, []string{"queue", "state"}),
		ActiveMatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ladder", Name: "active_matches",
			Help: "Non-terminal matches per guild.",
		}, []string{"guild"}),
		QueueWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ladder", Name: "queue_waiting",
			Help: "Participants waiting per queue.",
		}, []string{"guild", "queue"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladder", Name: "verifications_total",
			Help: "Settled verification requests.",
		}, []string{"payload", "outcome"}),
		RatingDelta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ladder", Name: "rating_delta_abs",
			Help:    "Absolute rating change per completed match.",
			Buckets: []float64{1, 5, 10, 15, 20, 25, 30, 40, 50},
		}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladder", Name: "operation_errors_total",
			Help: "Engine operations that failed, by error code.",
		}, []string{"operation", "code"}),
		OperationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ladder", Name: "operation_seconds",
			Help:    "Engine operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MatchesFormed,
		m.MatchesFinished,
		m.ActiveMatches,
		m.QueueWaiting,
		m.Verifications,
		m.RatingDelta,
		m.OperationErrors,
		m.OperationLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
