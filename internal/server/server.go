// Package server exposes single-address enrichment and stored-record lookups over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/internal/metrics"
	"github.com/shpitdev/home-equity-pipeline/internal/sink"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
)

const maxRequestBody = 64 << 10

// Service is the pipeline behind the handlers.
type Service interface {
	EnrichOne(ctx context.Context, raw string) (enrich.Result, error)
	Lookup(ctx context.Context, key string) (sink.Record, bool, error)
}

type Server struct {
	svc      Service
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// New returns a server. gatherer may be nil to disable /metrics.
func New(svc Service, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, gatherer: gatherer, logger: logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)
	rtr.Use(s.logRequests)

	rtr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		rtr.Handle("/metrics", metrics.Handler(s.gatherer))
	}
	rtr.Post("/v1/enrich", s.handleEnrich)
	rtr.Get("/v1/properties/{key}", s.handleProperty)
	return rtr
}

type enrichRequest struct {
	Address string `json:"address"`
}

// ResultJSON is the wire form of an enrichment result.
type ResultJSON struct {
	RecordKey        string              `json:"record_key"`
	RawAddress       string              `json:"raw_address"`
	CanonicalAddress string              `json:"canonical_address"`
	Validated        bool                `json:"validated"`
	AttomID          *string             `json:"attom_id"`
	EstBalance       decimal.NullDecimal `json:"est_balance"`
	AvailableEquity  decimal.NullDecimal `json:"available_equity"`
	LTV              decimal.NullDecimal `json:"ltv"`
	LoansCount       int                 `json:"loans_count"`
	ProcessedAt      time.Time           `json:"processed_at"`
	Stage            string              `json:"stage"`
	FailedStage      string              `json:"failed_stage,omitempty"`
	Error            string              `json:"error,omitempty"`
	StoreError       string              `json:"store_error,omitempty"`
}

// ToJSON renders a result in its wire form.
func ToJSON(res enrich.Result) ResultJSON {
	out := ResultJSON{
		RecordKey:        enrich.RecordKey(res.CanonicalAddress),
		RawAddress:       res.RawAddress,
		CanonicalAddress: res.CanonicalAddress,
		Validated:        res.Validated,
		AttomID:          optional(res.AttomID),
		EstBalance:       res.EstBalance,
		AvailableEquity:  res.AvailableEquity,
		LTV:              res.LTV,
		LoansCount:       res.LoansCount,
		ProcessedAt:      res.ProcessedAt.UTC(),
		Stage:            string(res.Stage),
		FailedStage:      string(res.FailedStage),
	}
	if res.Err != nil {
		out.Error = redact.Secrets(res.Err.Error())
	}
	return out
}

func recordJSON(rec sink.Record) ResultJSON {
	return ResultJSON{
		RecordKey:        rec.Key,
		RawAddress:       rec.RawAddress,
		CanonicalAddress: rec.CanonicalAddress,
		Validated:        rec.Validated,
		AttomID:          optional(rec.AttomID),
		EstBalance:       rec.EstBalance,
		AvailableEquity:  rec.AvailableEquity,
		LTV:              rec.LTV,
		LoansCount:       rec.LoansCount,
		ProcessedAt:      rec.ProcessedAt.UTC(),
		Stage:            rec.Stage,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	res, err := s.svc.EnrichOne(r.Context(), req.Address)
	out := ToJSON(res)
	var se *sink.Error
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.As(err, &se):
		out.StoreError = redact.Secrets(se.Err.Error())
		writeJSON(w, http.StatusOK, out)
	default:
		status := http.StatusBadGateway
		var stageErr *enrich.StageError
		if errors.As(err, &stageErr) && stageErr.Canceled() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, out)
	}
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rec, ok, err := s.svc.Lookup(r.Context(), key)
	switch {
	case errors.Is(err, sink.ErrNoStore):
		writeError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		s.logger.Error("lookup failed", zap.String("key", key), zap.String("error", redact.Secrets(err.Error())))
		writeError(w, http.StatusInternalServerError, "lookup failed")
	case !ok:
		writeError(w, http.StatusNotFound, "no record for key")
	default:
		writeJSON(w, http.StatusOK, recordJSON(rec))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves h on addr until ctx is done, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		logger.Info("http server shutting down", zap.String("addr", addr))
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
