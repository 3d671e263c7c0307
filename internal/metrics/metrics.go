// Package metrics holds the Prometheus collectors of the enricher and the observer
// hooks that feed them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

const namespace = "enricher"

// Metrics is safe to use as nil; every hook is then a no-op.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	RateLimitWait    *prometheus.HistogramVec
	Results          *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	ResolverCache    *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Provider call attempts by provider, operation and HTTP status (0 when no response).",
			},
			[]string{"provider", "op", "status"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Duration of a single provider call attempt.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 13),
			},
			[]string{"provider"},
		),
		RateLimitWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ratelimit_wait_seconds",
				Help:      "Time spent waiting for a rate limit token.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"limiter"},
		),
		Results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrich_results_total",
				Help:      "Enrichment results by final stage.",
			},
			[]string{"stage"},
		),
		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Failed result writes by sink.",
			},
			[]string{"sink"},
		),
		ResolverCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_total",
				Help:      "Property resolution cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ProviderRequests, m.ProviderDuration, m.RateLimitWait,
		m.Results, m.SinkErrors, m.ResolverCache,
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var err error
	for _, c := range m.collectors() {
		err = multierr.Append(err, reg.Register(c))
	}
	return err
}

// RetryObserver records every attempt made by a retry executor of provider.
func (m *Metrics) RetryObserver(provider string) retry.Observer {
	if m == nil {
		return nil
	}
	return func(op string, status int, elapsed time.Duration, _ error) {
		m.ProviderRequests.WithLabelValues(provider, op, strconv.Itoa(status)).Inc()
		m.ProviderDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

// LimiterObserver records token waits of the named limiter.
func (m *Metrics) LimiterObserver(limiter string) func(time.Duration) {
	if m == nil {
		return nil
	}
	h := m.RateLimitWait.WithLabelValues(limiter)
	return func(d time.Duration) {
		h.Observe(d.Seconds())
	}
}

// CacheObserver records resolver cache lookups.
func (m *Metrics) CacheObserver() func(result string) {
	if m == nil {
		return nil
	}
	return func(result string) {
		m.ResolverCache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveResult(stage string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
