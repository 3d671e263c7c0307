package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shpitdev/home-equity-pipeline/internal/metrics"
)

func TestObservers(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}

	obs := m.RetryObserver("attom")
	obs("resolve_property", 500, 20*time.Millisecond, errors.New("boom"))
	obs("resolve_property", 200, 10*time.Millisecond, nil)
	obs("fetch_equity", 0, time.Second, errors.New("reset"))
	if got := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("attom", "resolve_property", "500")); got != 1 {
		t.Fatalf("expected 1 500, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("attom", "fetch_equity", "0")); got != 1 {
		t.Fatalf("expected 1 network failure, got %v", got)
	}

	m.LimiterObserver("attom")(5 * time.Millisecond)
	m.CacheObserver()("hit")
	m.CacheObserver()("hit")
	m.ObserveResult("EQUITY_FETCHED")
	m.ObserveSinkError("store")
	if got := testutil.ToFloat64(m.ResolverCache.WithLabelValues("hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.SinkErrors.WithLabelValues("store")); got != 1 {
		t.Fatalf("expected 1 sink error, got %v", got)
	}

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"enricher_enrich_results_total", "enricher_ratelimit_wait_seconds", "enricher_provider_request_duration_seconds"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in exposition", want)
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	if m.RetryObserver("attom") != nil || m.LimiterObserver("attom") != nil || m.CacheObserver() != nil {
		t.Fatalf("expected nil observers")
	}
	m.ObserveResult("FAILED")
	m.ObserveSinkError("csv")
}
