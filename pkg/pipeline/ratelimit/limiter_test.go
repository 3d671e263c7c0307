package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/ratelimit"
)

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(0, 0)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("disabled limiter took %s", d)
	}
	if l.Rate() != 0 || l.Burst() != 0 {
		t.Fatalf("expected zero rate and burst, got %v/%d", l.Rate(), l.Burst())
	}
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	t.Parallel()

	// 100/s with burst 5: five immediate tokens then ~10ms each.
	l := ratelimit.New(100, 5)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if d := time.Since(start); d > 20*time.Millisecond {
		t.Fatalf("burst should be immediate, took %s", d)
	}

	start = time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if d := time.Since(start); d < 80*time.Millisecond {
		t.Fatalf("expected refill pacing of ~100ms for 10 tokens, took %s", d)
	}
}

func TestLimiter_SharedAcrossGoroutines(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	t.Parallel()

	// 20/s with burst 2: 22 acquires need at least ~1s.
	l := ratelimit.New(20, 2)
	var wg sync.WaitGroup
	start := time.Now()
	for g := 0; g < 11; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				if err := l.Acquire(context.Background()); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if d := time.Since(start); d < 900*time.Millisecond {
		t.Fatalf("expected global pacing >= ~1s, took %s", d)
	}
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(0.5, 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLimiter_WaitObserver(t *testing.T) {
	t.Parallel()

	var observed int
	l := ratelimit.New(1000, 1, ratelimit.WithWaitObserver(func(time.Duration) { observed++ }))
	for i := 0; i < 3; i++ {
		_ = l.Acquire(context.Background())
	}
	if observed != 3 {
		t.Fatalf("expected 3 observations, got %d", observed)
	}
}
