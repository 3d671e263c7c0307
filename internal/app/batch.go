package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/internal/config"
	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/internal/sink"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/core"
	localio "github.com/shpitdev/home-equity-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/worker"
)

// Summary describes a finished batch run.
type Summary struct {
	RunID string `json:"run_id"`
	// Attempted counts addresses that produced a result. Addresses never dispatched
	// because the run was cancelled are not included.
	Attempted  int                  `json:"attempted"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	// CanceledAddresses is the part of Failed that stopped because the run was
	// cancelled, not because a provider failed. Those addresses can be rerun as-is.
	CanceledAddresses int                  `json:"canceled_addresses"`
	ByStage           map[enrich.Stage]int `json:"by_stage"`
	SinkErrors        int                  `json:"sink_errors"`
	Inputs            int                  `json:"inputs"`
	Canceled          bool                 `json:"canceled"`
	Duration          time.Duration        `json:"-"`
	DurationMS        int64                `json:"duration_ms"`
}

func (s *Summary) add(res enrich.Result) {
	s.Attempted++
	s.ByStage[res.Stage]++
	if res.Succeeded() {
		s.Succeeded++
		return
	}
	s.Failed++
	if res.Canceled() {
		s.CanceledAddresses++
	}
}

// RunBatch enriches every address of cfg.Input and writes each result to the output
// CSV and, when configured, the relational store.
//
// Results are emitted as they complete. A cancelled run stops dispatching, lets
// in-flight addresses finish, emits their results and returns the summary together
// with the context error. A failing sink is counted and logged but never stops the run.
func RunBatch(ctx context.Context, cfg config.Config, deps Deps) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run", runID))
	deps.Logger = logger

	summary := Summary{RunID: runID, ByStage: make(map[enrich.Stage]int, len(enrich.Stages))}
	finish := func(err error) (Summary, error) {
		summary.Duration = time.Since(start)
		summary.DurationMS = summary.Duration.Milliseconds()
		return summary, err
	}

	if err := cfg.Validate(config.ModeBatch); err != nil {
		return finish(err)
	}
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	readStart := time.Now()
	var source core.InputAdapter[string] = localio.FileSource{Path: cfg.Input}
	addresses, err := source.Load(ctx)
	if err != nil {
		return finish(err)
	}
	summary.Inputs = len(addresses)
	logger.Info("loaded input addresses",
		zap.String("input", cfg.Input),
		zap.Int("count", len(addresses)),
		zap.Duration("elapsed", time.Since(readStart).Round(time.Millisecond)),
	)

	p, err := Build(ctx, cfg, deps)
	if err != nil {
		return finish(err)
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logger.Warn("close pipeline", zap.String("error", redact.Secrets(cerr.Error())))
		}
	}()

	csvSink, err := sink.OpenCSV(cfg.Output, cfg.AuditColumns)
	if err != nil {
		return finish(err)
	}
	named := []sink.Named{{Name: "csv", Sink: csvSink}}
	if p.Store != nil {
		named = append(named, sink.Named{Name: "store", Sink: sink.NewStoreSink(nopCloseStore{p.Store})})
	}
	out := sink.NewDual(named...)

	logger.Info("batch run start",
		zap.String("output", cfg.Output),
		zap.Bool("store", p.Store != nil),
		zap.Int("workers", cfg.Workers),
		zap.Float64("rate_limit_rps", cfg.RateLimitRPS),
		zap.Int("rate_limit_burst", cfg.RateLimitBurst),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.String("normalizer", cfg.Normalizer),
	)

	enrichStart := time.Now()
	_, runErr := worker.ProcessAllWithCallback(ctx, addresses, p.Enricher.Enrich,
		func(r worker.Result[string, enrich.Result]) error {
			res := r.Output
			summary.add(res)
			p.metrics.ObserveResult(string(res.Stage))
			logger.Debug("address enriched",
				zap.String("address", res.RawAddress),
				zap.String("stage", string(res.Stage)),
				zap.Int("completed", summary.Attempted),
				zap.Int("total", len(addresses)),
			)
			if err := out.Emit(ctx, res); err != nil {
				p.noteSinkErrors(logger, &summary, res.RawAddress, err)
			}
			return nil
		},
		worker.Options{Workers: cfg.Workers},
	)

	if err := out.Close(); err != nil {
		p.noteSinkErrors(logger, &summary, "", err)
	}

	summary.Canceled = errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)
	fields := []zap.Field{
		zap.Int("inputs", summary.Inputs),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("canceled_addresses", summary.CanceledAddresses),
		zap.Int("sink_errors", summary.SinkErrors),
		zap.Duration("enrich_elapsed", time.Since(enrichStart).Round(time.Millisecond)),
	}
	for _, st := range enrich.Stages {
		fields = append(fields, zap.Int(string(st), summary.ByStage[st]))
	}
	if runErr != nil {
		logger.Warn("batch run stopped early", append(fields, zap.Error(runErr))...)
		return finish(runErr)
	}
	logger.Info("batch run complete", fields...)
	return finish(nil)
}

func (p *Pipeline) noteSinkErrors(logger *zap.Logger, summary *Summary, address string, err error) {
	for _, se := range sink.Errors(err) {
		summary.SinkErrors++
		p.metrics.ObserveSinkError(se.Sink)
		logger.Warn("sink write failed",
			zap.String("sink", se.Sink),
			zap.String("address", address),
			zap.String("error", redact.Secrets(se.Err.Error())),
		)
	}
}

// nopCloseStore leaves the store's lifetime to the pipeline.
type nopCloseStore struct {
	sink.Store
}

func (nopCloseStore) Close() error { return nil }
