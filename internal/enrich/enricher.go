package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/internal/attom"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

// Enricher runs one address through normalize, resolve and fetch.
//
// Stages are strictly sequential: a stage runs only when the previous one produced the
// input it needs. The run context is checked between stages; a cancelled run stops the
// address before its next provider call and reports it FAILED at that stage.
type Enricher struct {
	normalizer Normalizer
	resolver   Resolver
	fetcher    Fetcher
	calcDate   time.Time
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Enricher)

// WithCalcDate fixes the valuation date. The zero value means the date of each call.
func WithCalcDate(d time.Time) Option {
	return func(e *Enricher) { e.calcDate = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Enricher) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the clock used for ProcessedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) {
		if now != nil {
			e.now = now
		}
	}
}

func New(n Normalizer, r Resolver, f Fetcher, opts ...Option) *Enricher {
	e := &Enricher{
		normalizer: n,
		resolver:   r,
		fetcher:    f,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich always returns exactly one Result for raw.
func (e *Enricher) Enrich(ctx context.Context, raw string) Result {
	log := e.logger.With(zap.String("address", raw))
	res := Result{RawAddress: raw, CanonicalAddress: raw}

	addr := e.normalizer.Normalize(ctx, raw)
	res.CanonicalAddress = addr.Canonical
	res.Validated = addr.Validated
	res.Stage = StageNormalized
	log.Debug("stage complete",
		zap.String("stage", string(StageNormalized)),
		zap.Bool("validated", addr.Validated),
	)

	if err := ctx.Err(); err != nil {
		return e.finish(log, e.fail(res, StageResolved, err))
	}
	resolved := e.resolve(ctx, res.CanonicalAddress)
	switch resolved.Kind {
	case OutcomeFatal:
		return e.finish(log, e.fail(res, StageResolved, resolved.Err))
	case OutcomeNoMatch:
		res.Stage = StageResolved
		log.Debug("stage complete", zap.String("stage", string(StageResolved)), zap.String("outcome", resolved.Kind.String()))
		return e.finish(log, res)
	}
	res.AttomID = resolved.Value
	res.Stage = StageResolved
	log.Debug("stage complete", zap.String("stage", string(StageResolved)), zap.String("attom_id", res.AttomID))

	if err := ctx.Err(); err != nil {
		return e.finish(log, e.fail(res, StageEquityFetched, err))
	}
	fetched := e.fetch(ctx, res.AttomID)
	if fetched.Kind == OutcomeFatal {
		return e.finish(log, e.fail(res, StageEquityFetched, fetched.Err))
	}
	eq := fetched.Value
	res.EstBalance = eq.EstBalance
	res.AvailableEquity = eq.AvailableEquity
	res.LTV = eq.LTV
	res.LoansCount = eq.LoansCount
	res.Stage = StageEquityFetched
	log.Debug("stage complete",
		zap.String("stage", string(StageEquityFetched)),
		zap.Int("loans", eq.LoansCount),
	)
	return e.finish(log, res)
}

func (e *Enricher) resolve(ctx context.Context, canonical string) Outcome[string] {
	id, err := e.resolver.ResolveProperty(ctx, canonical)
	if err != nil {
		return fatal[string](err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return noMatch[string]()
	}
	return ok(id)
}

func (e *Enricher) fetch(ctx context.Context, attomID string) Outcome[attom.Equity] {
	calc := e.calcDate
	if calc.IsZero() {
		calc = e.now().UTC()
	}
	eq, err := e.fetcher.FetchEquity(ctx, attomID, calc)
	if err != nil {
		return fatal[attom.Equity](err)
	}
	return ok(eq)
}

func (e *Enricher) fail(res Result, stage Stage, err error) Result {
	res.Stage = StageFailed
	res.FailedStage = stage
	res.Err = &StageError{Stage: stage, Address: res.RawAddress, Err: err}
	return res
}

func (e *Enricher) finish(log *zap.Logger, res Result) Result {
	if res.AttomID == "" {
		res.EstBalance.Valid = false
		res.AvailableEquity.Valid = false
		res.LTV.Valid = false
		res.LoansCount = 0
	}
	res.ProcessedAt = e.now().UTC()
	if res.Err != nil {
		attempts := 0
		var exh *retry.ExhaustedError
		if errors.As(res.Err, &exh) {
			attempts = exh.Attempts
		}
		log.Warn("address failed",
			zap.String("stage", string(res.FailedStage)),
			zap.Int("status", retry.StatusOf(res.Err)),
			zap.Int("attempts", attempts),
			zap.String("error", redact.Secrets(res.Err.Error())),
		)
	}
	return res
}
