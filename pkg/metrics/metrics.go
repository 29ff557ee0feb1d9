// Package metrics exposes Prometheus collectors for the optimizer and
// gateway. Metric names follow the llm_* exporter convention so existing
// dashboards keep working.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Metrics bundles the collectors on a private registry so tests can run
// multiple instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CostTotal       *prometheus.CounterVec
	CacheHitsTotal  prometheus.Counter
	InFlight        prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM requests.",
		}, []string{"tier", "outcome"}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_processed_total",
			Help: "Total tokens processed.",
		}, []string{"type"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Request processing duration.",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}, []string{"tier"}),
		CostTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_cost_dollars_total",
			Help: "Total cost in USD.",
		}, []string{"tier"}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "llm_cache_hits_total",
			Help: "Total cache hits served at zero marginal cost.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "llm_requests_in_flight",
			Help: "Current number of requests being processed.",
		}),
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome records a processed query. Safe on a nil receiver so the
// processor can run without metrics wired.
func (m *Metrics) ObserveOutcome(o *models.Outcome) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(o.Tier), string(o.Kind)).Inc()
	if o.Kind == models.OutcomeCacheHit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.TokensTotal.WithLabelValues("input").Add(o.Tokens.Prompt)
	m.TokensTotal.WithLabelValues("output").Add(o.Tokens.Completion)
	m.RequestDuration.WithLabelValues(string(o.Tier)).Observe(o.Latency.Seconds())
	m.CostTotal.WithLabelValues(string(o.Tier)).Add(o.Cost)
}

// ObserveFailure records a query that ended in a backend error.
func (m *Metrics) ObserveFailure(tier pricing.Tier) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(tier), "error").Inc()
}
