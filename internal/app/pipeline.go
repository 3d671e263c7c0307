// Package app wires configuration into a runnable enrichment pipeline and drives batch
// and single-address runs.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/internal/attom"
	"github.com/shpitdev/home-equity-pipeline/internal/cache"
	"github.com/shpitdev/home-equity-pipeline/internal/config"
	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/internal/httpx"
	"github.com/shpitdev/home-equity-pipeline/internal/metrics"
	"github.com/shpitdev/home-equity-pipeline/internal/normalize"
	"github.com/shpitdev/home-equity-pipeline/internal/sink"
	"github.com/shpitdev/home-equity-pipeline/internal/storage"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/ratelimit"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

// Deps are optional collaborators. Zero values are built from the configuration.
type Deps struct {
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	// Store overrides the store opened from StoreDSN.
	Store sink.Store
	// Redis overrides the client opened from the redis options.
	Redis *r.Client
	// Clock stamps ProcessedAt.
	Clock func() time.Time
}

// Pipeline is a wired enricher plus the shared resources it owns: one rate limiter per
// provider, the optional resolver cache and the optional store.
type Pipeline struct {
	Enricher *enrich.Enricher
	Store    sink.Store

	logger  *zap.Logger
	metrics *metrics.Metrics
	closers []func() error
}

// Build wires a pipeline. Every configuration problem is reported before any provider
// call is made. The caller must Close the pipeline.
func Build(ctx context.Context, cfg config.Config, deps Deps) (*Pipeline, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{logger: logger, metrics: deps.Metrics}

	calcDate, err := cfg.CalcTime()
	if err != nil {
		return nil, err
	}

	hc := deps.HTTPClient
	if hc == nil {
		hc, err = httpx.NewHTTPClient(cfg.CAFile)
		if err != nil {
			return nil, err
		}
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BackoffBase,
		MaxDelay:       cfg.BackoffMax,
		RequestTimeout: cfg.RequestTimeout,
	}

	attomLimiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst,
		ratelimit.WithWaitObserver(deps.Metrics.LimiterObserver("attom")))
	attomExec := retry.New(attomLimiter, policy,
		retry.WithLogger(logger.Named("attom")),
		retry.WithObserver(deps.Metrics.RetryObserver("attom")))
	client, err := attom.New(attom.Config{APIKey: cfg.Attom.APIKey, BaseURL: cfg.Attom.BaseURL}, hc, attomExec)
	if err != nil {
		return nil, err
	}

	validator, err := newValidator(ctx, cfg, hc)
	if err != nil {
		return nil, err
	}
	valBurst := cfg.RateLimitBurst
	if valBurst < 1 {
		valBurst = 1
	}
	valLimiter := ratelimit.New(cfg.ValidationRateLimitRPS, valBurst,
		ratelimit.WithWaitObserver(deps.Metrics.LimiterObserver("validation")))
	valExec := retry.New(valLimiter, policy,
		retry.WithLogger(logger.Named("validation")),
		retry.WithObserver(deps.Metrics.RetryObserver(cfg.Normalizer)))
	normalizer := normalize.New(validator, valExec, logger.Named("normalize"))

	var resolver enrich.Resolver = client
	if rdb := p.openRedis(ctx, cfg, deps); rdb != nil {
		resolver = cache.NewResolver(client, rdb, cfg.Redis.TTL,
			cache.WithLogger(logger.Named("cache")),
			cache.WithObserver(deps.Metrics.CacheObserver()))
	}

	opts := []enrich.Option{enrich.WithCalcDate(calcDate), enrich.WithLogger(logger)}
	if deps.Clock != nil {
		opts = append(opts, enrich.WithClock(deps.Clock))
	}
	p.Enricher = enrich.New(normalizer, resolver, client, opts...)

	if err := p.openStore(ctx, cfg, deps); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func newValidator(ctx context.Context, cfg config.Config, hc *http.Client) (normalize.Validator, error) {
	switch cfg.Normalizer {
	case config.NormalizerAddressValidation:
		v, err := normalize.NewAddressValidation(normalize.AddressValidationConfig{
			APIKey:     cfg.Validation.APIKey,
			BaseURL:    cfg.Validation.BaseURL,
			RegionCode: cfg.Validation.RegionCode,
		}, hc)
		if err != nil {
			return nil, err
		}
		return v, nil
	case config.NormalizerGemini:
		v, err := normalize.NewGemini(ctx, normalize.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		}, hc)
		if err != nil {
			return nil, err
		}
		return v, nil
	case config.NormalizerNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown normalizer %q", cfg.Normalizer)
	}
}

// openRedis returns nil when no cache is configured or the server is unreachable; the
// cache is an optimisation and never blocks a run.
func (p *Pipeline) openRedis(ctx context.Context, cfg config.Config, deps Deps) *r.Client {
	if deps.Redis != nil {
		return deps.Redis
	}
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb, err := cache.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		p.logger.Warn("resolver cache disabled", zap.String("addr", cfg.Redis.Addr), zap.String("error", redact.Secrets(err.Error())))
		return nil
	}
	p.closers = append(p.closers, rdb.Close)
	return rdb
}

func (p *Pipeline) openStore(ctx context.Context, cfg config.Config, deps Deps) error {
	if deps.Store != nil {
		p.Store = deps.Store
		return nil
	}
	if cfg.StoreDSN == "" {
		return nil
	}
	if cfg.AutoMigrate {
		if _, err := storage.Migrate(ctx, cfg.StoreDSN, p.logger.Named("migrate")); err != nil {
			return err
		}
	}
	st, err := sink.OpenStore(ctx, cfg.StoreDSN)
	if err != nil {
		return err
	}
	p.Store = st
	p.closers = append(p.closers, st.Close)
	return nil
}

// Lookup reads a stored record by key.
func (p *Pipeline) Lookup(ctx context.Context, key string) (sink.Record, bool, error) {
	if p.Store == nil {
		return sink.Record{}, false, sink.ErrNoStore
	}
	return p.Store.Get(ctx, key)
}

// Close releases resources the pipeline opened itself. Injected dependencies are left
// to their owner.
func (p *Pipeline) Close() error {
	var err error
	for i := len(p.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, p.closers[i]())
	}
	p.closers = nil
	return err
}
