package cache_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	r "github.com/redis/go-redis/v9"

	"github.com/shpitdev/home-equity-pipeline/internal/cache"
)

type countingResolver struct {
	mu    sync.Mutex
	calls int
	ids   map[string]string
	err   error
}

func (c *countingResolver) ResolveProperty(_ context.Context, canonical string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.ids[canonical], c.err
}

func TestResolverCache_RedisDownFallsThrough(t *testing.T) {
	t.Parallel()

	rdb := r.NewClient(&r.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer func() { _ = rdb.Close() }()

	var results []string
	next := &countingResolver{ids: map[string]string{"1 Main St": "42"}}
	c := cache.NewResolver(next, rdb, time.Minute, cache.WithObserver(func(res string) { results = append(results, res) }))

	id, err := c.ResolveProperty(context.Background(), "1 Main St")
	if err != nil || id != "42" {
		t.Fatalf("ResolveProperty=%q,%v", id, err)
	}
	if next.calls != 1 {
		t.Fatalf("expected provider call, got %d", next.calls)
	}
	if len(results) != 1 || results[0] != "error" {
		t.Fatalf("expected one error observation, got %v", results)
	}
}

func TestResolverCache_Redis(t *testing.T) {
	addr := os.Getenv("ENRICHER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ENRICHER_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	rdb, err := cache.Open(ctx, addr, os.Getenv("ENRICHER_TEST_REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	suffix := time.Now().Format("150405.000000000")
	known := "1 Main St, Springfield, IL 62701 " + suffix
	unknown := "1 Nowhere Ln, Atlantis, ZZ " + suffix

	next := &countingResolver{ids: map[string]string{known: "42"}}
	c := cache.NewResolver(next, rdb, time.Minute)

	for i := 0; i < 2; i++ {
		id, err := c.ResolveProperty(ctx, known)
		if err != nil || id != "42" {
			t.Fatalf("ResolveProperty(known)=%q,%v", id, err)
		}
		id, err = c.ResolveProperty(ctx, unknown)
		if err != nil || id != "" {
			t.Fatalf("ResolveProperty(unknown)=%q,%v", id, err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 provider calls (one per address), got %d", next.calls)
	}

	// Failures are not cached.
	failing := &countingResolver{err: errors.New("boom")}
	fc := cache.NewResolver(failing, rdb, time.Minute)
	other := "2 Main St " + suffix
	for i := 0; i < 2; i++ {
		if _, err := fc.ResolveProperty(ctx, other); err == nil {
			t.Fatalf("expected error")
		}
	}
	if failing.calls != 2 {
		t.Fatalf("expected failures to bypass cache, got %d calls", failing.calls)
	}
}
