package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
)

// Acquirer hands out permission to make one outbound call.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Policy controls attempts and backoff for one provider.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean the default (3).
	MaxAttempts int
	// BaseDelay is the sleep before the second attempt; it doubles for each retry after.
	BaseDelay time.Duration
	// MaxDelay caps exponential backoff.
	MaxDelay time.Duration
	// JitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%). Negative disables jitter.
	JitterFrac float64
	// RequestTimeout bounds a single attempt.
	RequestTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * time.Second
	}
	if p.JitterFrac == 0 {
		p.JitterFrac = 0.2
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 30 * time.Second
	}
	return p
}

// Observer is told about every attempt. status is 0 when no HTTP response was received.
type Observer func(op string, status int, elapsed time.Duration, err error)

// Executor runs provider calls with rate limiting, per-attempt timeouts and backoff.
// It holds no per-call state and is safe for concurrent use.
type Executor struct {
	limiter  Acquirer
	policy   Policy
	logger   *zap.Logger
	observer Observer
}

// Option customizes an Executor.
type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// New builds an executor. limiter may be nil for unlimited calls.
func New(limiter Acquirer, policy Policy, opts ...Option) *Executor {
	e := &Executor{
		limiter: limiter,
		policy:  policy.withDefaults(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy after defaults.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs fn until it succeeds, fails with a non-retryable error, or runs out of attempts.
//
// Every attempt first takes a limiter token. Attempts run on a context detached from ctx
// so that cancelling a run never cuts a request off mid-flight; cancellation only stops
// further attempts. Non-retryable errors are returned unchanged. Exhaustion is reported
// as *ExhaustedError.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p := e.policy
	callBase := context.WithoutCancel(ctx)

	var lastErr error
	var backoff time.Duration
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Acquire(callBase); err != nil {
				return zero, fmt.Errorf("%s: acquire rate limit token: %w", op, err)
			}
		}

		callCtx, cancel := context.WithTimeout(callBase, p.RequestTimeout)
		start := time.Now()
		out, err := fn(callCtx)
		elapsed := time.Since(start)
		cancel()

		if e.observer != nil {
			e.observer(op, StatusOf(err), elapsed, err)
		}
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		sleep := backoffSleep(p.BaseDelay, p.MaxDelay, p.JitterFrac, attempt-1)
		backoff += sleep
		e.logger.Debug("retrying provider call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("status", StatusOf(err)),
			zap.Duration("sleep", sleep),
			zap.String("error", redact.Secrets(err.Error())),
		)

		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, &ExhaustedError{
				Op:         op,
				Attempts:   attempt,
				LastStatus: StatusOf(lastErr),
				Canceled:   true,
				Err:        fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr),
			}
		}
	}

	e.logger.Debug("provider call exhausted retries",
		zap.String("op", op),
		zap.Int("attempts", p.MaxAttempts),
		zap.Duration("backoff", backoff),
	)
	return zero, &ExhaustedError{
		Op:         op,
		Attempts:   p.MaxAttempts,
		LastStatus: StatusOf(lastErr),
		Err:        lastErr,
	}
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
