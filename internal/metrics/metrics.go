// Package metrics holds the router's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "llm_router"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer   prometheus.Gatherer
	registerer prometheus.Registerer

	requests        *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer:   reg,
		registerer: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Chat completion requests by HTTP status and selected provider.",
		}, []string{"status", "provider"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Upstream dispatch latency including retries and fallback stages.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		}, []string{"provider"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_cache_lookups_total",
			Help:      "Ranking cache lookups by result (hit or miss).",
		}, []string{"result"}),
	}
}

// ObserveRequest counts a finished request. provider may be empty when the
// request failed before selection.
func (m *Metrics) ObserveRequest(status int, provider string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.requests.WithLabelValues(strconv.Itoa(status), provider).Inc()
}

// ObserveProviderLatency records one dispatch.
func (m *Metrics) ObserveProviderLatency(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// CacheLookup counts a ranking cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// GaugeFunc registers a gauge read from fn at scrape time. Registering the
// same name twice panics.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
