package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/internal/server"
	"github.com/shpitdev/home-equity-pipeline/internal/sink"
)

type fakeService struct {
	enrich func(ctx context.Context, raw string) (enrich.Result, error)
	rows   map[string]sink.Record
	noDB   bool
}

func (f *fakeService) EnrichOne(ctx context.Context, raw string) (enrich.Result, error) {
	return f.enrich(ctx, raw)
}

func (f *fakeService) Lookup(_ context.Context, key string) (sink.Record, bool, error) {
	if f.noDB {
		return sink.Record{}, false, sink.ErrNoStore
	}
	rec, ok := f.rows[key]
	return rec, ok, nil
}

var processed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fetched(_ context.Context, raw string) (enrich.Result, error) {
	return enrich.Result{
		RawAddress:       raw,
		CanonicalAddress: "123 Main St, Springfield, IL 62701",
		Validated:        true,
		AttomID:          "184713191",
		EstBalance:       decimal.NewNullDecimal(decimal.RequireFromString("98000.5")),
		LoansCount:       2,
		ProcessedAt:      processed,
		Stage:            enrich.StageEquityFetched,
	}, nil
}

func newServer(t *testing.T, svc server.Service) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(server.New(svc, prometheus.NewRegistry(), nil).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestEnrich(t *testing.T) {
	t.Parallel()

	ts := newServer(t, &fakeService{enrich: fetched})

	status, out := post(t, ts.URL+"/v1/enrich", `{"address":"123 main st"}`)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%v", status, out)
	}
	if out["attom_id"] != "184713191" || out["stage"] != "EQUITY_FETCHED" || out["est_balance"] != "98000.5" {
		t.Fatalf("unexpected body: %v", out)
	}
	if out["ltv"] != nil || out["record_key"] != enrich.RecordKey("123 Main St, Springfield, IL 62701") {
		t.Fatalf("unexpected body: %v", out)
	}

	for _, body := range []string{`{"address":"  "}`, `not json`, `{"addr":"x"}`} {
		if status, _ := post(t, ts.URL+"/v1/enrich", body); status != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, status)
		}
	}
}

func TestEnrich_FailureStatuses(t *testing.T) {
	t.Parallel()

	failWith := func(cause error) func(context.Context, string) (enrich.Result, error) {
		return func(_ context.Context, raw string) (enrich.Result, error) {
			se := &enrich.StageError{Stage: enrich.StageResolved, Address: raw, Err: cause}
			return enrich.Result{RawAddress: raw, CanonicalAddress: raw, Stage: enrich.StageFailed, FailedStage: enrich.StageResolved, Err: se}, se
		}
	}
	tests := []struct {
		name string
		fn   func(context.Context, string) (enrich.Result, error)
		want int
	}{
		{name: "provider failure", fn: failWith(errors.New("500 apikey=abc123")), want: http.StatusBadGateway},
		{name: "cancelled", fn: failWith(context.Canceled), want: http.StatusServiceUnavailable},
		{
			name: "store failure still returns result",
			fn: func(ctx context.Context, raw string) (enrich.Result, error) {
				res, _ := fetched(ctx, raw)
				return res, &sink.Error{Sink: "store", Err: errors.New("connection refused")}
			},
			want: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newServer(t, &fakeService{enrich: tt.fn})
			status, out := post(t, ts.URL+"/v1/enrich", `{"address":"1 main st"}`)
			if status != tt.want {
				t.Fatalf("status=%d want=%d body=%v", status, tt.want, out)
			}
			if e, _ := out["error"].(string); strings.Contains(e, "abc123") {
				t.Fatalf("error leaked secret: %q", e)
			}
		})
	}
}

func TestProperties(t *testing.T) {
	t.Parallel()

	rec := sink.Record{Key: "k1", RawAddress: "1 main st", CanonicalAddress: "1 Main St", Stage: "RESOLVED", ProcessedAt: processed}
	ts := newServer(t, &fakeService{rows: map[string]sink.Record{"k1": rec}})

	resp, err := http.Get(ts.URL + "/v1/properties/k1")
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || out["record_key"] != "k1" || out["attom_id"] != nil {
		t.Fatalf("status=%d body=%v", resp.StatusCode, out)
	}

	resp, err = http.Get(ts.URL + "/v1/properties/missing")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	noDB := newServer(t, &fakeService{noDB: true})
	resp, err = http.Get(noDB.URL + "/v1/properties/k1")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	ts := newServer(t, &fakeService{enrich: fetched})
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.ListenAndServe(ctx, addr, server.New(&fakeService{enrich: fetched}, nil, nil).Routes(), nil)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
