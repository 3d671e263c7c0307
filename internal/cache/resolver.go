// Package cache keeps property resolutions in Redis so repeated addresses do not
// spend provider quota twice.
package cache

import (
	"context"
	"errors"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
)

const (
	keyPrefix = "enricher:resolve:"
	// noMatch is stored for addresses the provider does not know.
	noMatch = "-"

	opTimeout = 2 * time.Second
)

// Resolver is the uncached property lookup.
type Resolver interface {
	ResolveProperty(ctx context.Context, canonical string) (string, error)
}

// Observer is told "hit", "miss" or "error" for each lookup.
type Observer func(result string)

// ResolverCache wraps a Resolver with a read-through Redis cache. Matches and
// no-matches are cached; failures are not. Redis errors never fail a lookup, the call
// goes to the provider instead.
type ResolverCache struct {
	next    Resolver
	rdb     *r.Client
	ttl     time.Duration
	logger  *zap.Logger
	observe Observer
}

type Option func(*ResolverCache)

func WithLogger(l *zap.Logger) Option {
	return func(c *ResolverCache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *ResolverCache) { c.observe = o }
}

// NewResolver returns a caching resolver. ttl <= 0 means 30 days.
func NewResolver(next Resolver, rdb *r.Client, ttl time.Duration, opts ...Option) *ResolverCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	c := &ResolverCache{next: next, rdb: rdb, ttl: ttl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResolverCache) ResolveProperty(ctx context.Context, canonical string) (string, error) {
	key := keyPrefix + enrich.RecordKey(canonical)

	// Cache I/O follows the provider-call rule: once started it is not cut off by run
	// cancellation, only by its own timeout.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	v, err := c.rdb.Get(cctx, key).Result()
	cancel()
	switch {
	case err == nil:
		c.note("hit")
		if v == noMatch {
			return "", nil
		}
		return v, nil
	case errors.Is(err, r.Nil):
		c.note("miss")
	default:
		c.note("error")
		c.logger.Warn("resolver cache read failed", zap.String("error", redact.Secrets(err.Error())))
	}

	id, err := c.next.ResolveProperty(ctx, canonical)
	if err != nil {
		return "", err
	}
	val := id
	if val == "" {
		val = noMatch
	}
	cctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()
	if err := c.rdb.Set(cctx, key, val, c.ttl).Err(); err != nil {
		c.logger.Warn("resolver cache write failed", zap.String("error", redact.Secrets(err.Error())))
	}
	return id, nil
}

func (c *ResolverCache) note(result string) {
	if c.observe != nil {
		c.observe(result)
	}
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, addr, password string, db int) (*r.Client, error) {
	rdb := r.NewClient(&r.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
