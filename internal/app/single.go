package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/internal/config"
	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/internal/sink"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
)

// EnrichOne runs a single address and upserts it when a store is configured.
//
// The result is always returned. The error is the *enrich.StageError of a FAILED
// result, or a *sink.Error when the result could not be stored.
func (p *Pipeline) EnrichOne(ctx context.Context, raw string) (enrich.Result, error) {
	res := p.Enricher.Enrich(ctx, raw)
	p.metrics.ObserveResult(string(res.Stage))
	if !res.Succeeded() {
		return res, res.Err
	}
	if p.Store == nil {
		return res, nil
	}
	if err := sink.NewStoreSink(p.Store).Emit(ctx, res); err != nil {
		p.metrics.ObserveSinkError("store")
		p.logger.Warn("store write failed",
			zap.String("address", res.RawAddress),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return res, &sink.Error{Sink: "store", Err: err}
	}
	return res, nil
}

// EnrichOne builds a pipeline for one address and tears it down afterwards.
func EnrichOne(ctx context.Context, cfg config.Config, deps Deps, raw string) (enrich.Result, error) {
	if err := cfg.Validate(config.ModeEnrich); err != nil {
		return enrich.Result{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return enrich.Result{}, fmt.Errorf("address is required")
	}
	p, err := Build(ctx, cfg, deps)
	if err != nil {
		return enrich.Result{}, err
	}
	defer func() {
		_ = p.Close()
	}()
	return p.EnrichOne(ctx, raw)
}
