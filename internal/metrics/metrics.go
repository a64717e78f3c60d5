// Package metrics exposes the gateway's Prometheus instruments. Labels carry
// aggregate dimensions only; agent and tenant identifiers never become label
// values.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway instruments over one registry.
type Metrics struct {
	registry *prometheus.Registry

	Decisions          *prometheus.CounterVec
	RateLimitHits      prometheus.Counter
	DecisionLatency    prometheus.Histogram
	AuditWriteFailures prometheus.Counter
}

// New creates and registers the instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edon_decisions_total",
			Help: "Decisions produced, by verdict and reason code.",
		}, []string{"verdict", "reason_code"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edon_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edon_decision_latency_seconds",
			Help:    "End-to-end decision latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edon_audit_write_failures_total",
			Help: "Audit events that failed to persist.",
		}),
	}
	registry.MustRegister(
		m.Decisions,
		m.RateLimitHits,
		m.DecisionLatency,
		m.AuditWriteFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
