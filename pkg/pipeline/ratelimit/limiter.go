package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a process-wide token bucket shared by every worker that calls one provider.
//
// Capacity is the burst size and tokens refill at the sustained rate. Waiters are
// served in reservation order, so no caller starves while tokens keep arriving.
type Limiter struct {
	lim     *rate.Limiter
	observe func(time.Duration)
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithWaitObserver registers a callback that receives the time spent in each Acquire.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) {
		l.observe = fn
	}
}

// New returns a limiter refilling at ratePerSec with the given burst.
// A non-positive rate disables limiting; Acquire then returns immediately.
func New(ratePerSec float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{}
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.lim = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until one token has been consumed.
//
// The only error is ctx's own, returned when ctx ends before a token is available.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.lim == nil {
		return nil
	}
	start := time.Now()
	err := l.lim.Wait(ctx)
	if l.observe != nil {
		l.observe(time.Since(start))
	}
	return err
}

// Rate reports the sustained rate in tokens per second, or 0 when disabled.
func (l *Limiter) Rate() float64 {
	if l == nil || l.lim == nil {
		return 0
	}
	return float64(l.lim.Limit())
}

// Burst reports the bucket capacity, or 0 when disabled.
func (l *Limiter) Burst() int {
	if l == nil || l.lim == nil {
		return 0
	}
	return l.lim.Burst()
}
