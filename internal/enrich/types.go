package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shpitdev/home-equity-pipeline/internal/attom"
	"github.com/shpitdev/home-equity-pipeline/internal/normalize"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

// Stage is the furthest point an address reached.
type Stage string

const (
	StageNormalized    Stage = "NORMALIZED"
	StageResolved      Stage = "RESOLVED"
	StageEquityFetched Stage = "EQUITY_FETCHED"
	StageFailed        Stage = "FAILED"
)

// Stages lists every stage in pipeline order, FAILED last.
var Stages = []Stage{StageNormalized, StageResolved, StageEquityFetched, StageFailed}

// Result is the enriched record for one input address. Exactly one is produced per
// address, including failures.
//
// An empty AttomID means the property was not resolved; the monetary fields are then
// null and LoansCount is 0.
type Result struct {
	RawAddress       string
	CanonicalAddress string
	Validated        bool

	AttomID         string
	EstBalance      decimal.NullDecimal
	AvailableEquity decimal.NullDecimal
	LTV             decimal.NullDecimal
	LoansCount      int

	ProcessedAt time.Time

	Stage Stage
	// FailedStage is the stage that could not be completed when Stage is FAILED.
	FailedStage Stage
	Err         error
}

// Succeeded reports whether the address reached a terminal success state. A property
// that does not exist at the provider still counts as success.
func (r Result) Succeeded() bool {
	return r.Stage != StageFailed
}

// Canceled reports whether a FAILED result stopped because its run was cancelled
// rather than because a provider failed. Such an address can be replayed unchanged.
func (r Result) Canceled() bool {
	if r.Stage != StageFailed {
		return false
	}
	var se *StageError
	return errors.As(r.Err, &se) && se.Canceled()
}

// StageError is the typed failure attached to a FAILED result.
type StageError struct {
	Stage   Stage
	Address string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return "enrichment failed"
	}
	return fmt.Sprintf("%s stage failed for %q: %v", e.Stage, e.Address, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Canceled reports whether the address failed because its run was cancelled. Retries
// that ran out on per-attempt timeouts are provider failures, not cancellations.
func (e *StageError) Canceled() bool {
	if e == nil {
		return false
	}
	var exh *retry.ExhaustedError
	if errors.As(e.Err, &exh) {
		return exh.Canceled
	}
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// OutcomeKind tags a stage outcome.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	// OutcomeNoMatch means the provider answered but had nothing for this input.
	OutcomeNoMatch
	// OutcomeFatal means the stage could not be completed for this address.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one stage.
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Err   error
}

func ok[T any](v T) Outcome[T] { return Outcome[T]{Kind: OutcomeOK, Value: v} }

func noMatch[T any]() Outcome[T] { return Outcome[T]{Kind: OutcomeNoMatch} }

func fatal[T any](err error) Outcome[T] { return Outcome[T]{Kind: OutcomeFatal, Err: err} }

// Normalizer standardizes a raw address. It never fails.
type Normalizer interface {
	Normalize(ctx context.Context, raw string) normalize.Address
}

// Resolver maps a canonical address to a property id. ("", nil) means no match.
type Resolver interface {
	ResolveProperty(ctx context.Context, canonical string) (string, error)
}

// Fetcher loads the home-equity valuation for a property id.
type Fetcher interface {
	FetchEquity(ctx context.Context, attomID string, calcDate time.Time) (attom.Equity, error)
}
