// Package config loads run configuration from defaults, an optional YAML file and the
// environment. Command-line flags are bound on top by the caller.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/home-equity-pipeline/internal/storage"
)

// Normalizer backends.
const (
	NormalizerAddressValidation = "addressvalidation"
	NormalizerGemini            = "gemini"
	NormalizerNone              = "none"
)

// CalcDateLayout is the accepted calc_date format.
const CalcDateLayout = "2006-01-02"

// Mode selects which options Validate requires.
type Mode int

const (
	ModeBatch Mode = iota
	ModeEnrich
	ModeServe
	ModeMigrate
)

type AttomConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

type ValidationConfig struct {
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	RegionCode string `yaml:"region_code" env:"REGION_CODE"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	Model   string `yaml:"model" env:"MODEL"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Config is the full option surface of the enricher.
type Config struct {
	Input        string `yaml:"input" env:"INPUT"`
	Output       string `yaml:"output" env:"OUTPUT"`
	AuditColumns bool   `yaml:"audit_columns" env:"AUDIT_COLUMNS"`
	StoreDSN     string `yaml:"store_dsn" env:"STORE_DSN"`
	AutoMigrate  bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// CalcDate is YYYY-MM-DD; empty means the run date.
	CalcDate string `yaml:"calc_date" env:"CALC_DATE"`

	Workers                int           `yaml:"workers" env:"WORKERS"`
	RateLimitRPS           float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	ValidationRateLimitRPS float64       `yaml:"validation_rate_limit_rps" env:"VALIDATION_RATE_LIMIT_RPS"`
	MaxAttempts            int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffBase            time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax             time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	RequestTimeout         time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	RunTimeout             time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT"`

	Normalizer string `yaml:"normalizer" env:"NORMALIZER"`
	CAFile     string `yaml:"ca_file" env:"CA_FILE"`

	Attom      AttomConfig      `yaml:"attom" envPrefix:"ATTOM_"`
	Validation ValidationConfig `yaml:"validation" envPrefix:"ADDRESS_VALIDATION_"`
	Gemini     GeminiConfig     `yaml:"gemini" envPrefix:"GEMINI_"`
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`

	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	HTTPAddr    string `yaml:"http_addr" env:"HTTP_ADDR"`
}

// Default returns the built-in defaults. Credentials have none.
func Default() Config {
	return Config{
		AuditColumns:   true,
		Workers:        10,
		RateLimitRPS:   10,
		RateLimitBurst: 10,
		MaxAttempts:    3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     8 * time.Second,
		RequestTimeout: 30 * time.Second,
		Normalizer:     NormalizerAddressValidation,
		Redis:          RedisConfig{TTL: 30 * 24 * time.Hour},
		Log:            LogConfig{Level: "info", Format: "json"},
		HTTPAddr:       ":8080",
	}
}

// Load layers defaults, the YAML file at path (optional) and the process environment.
func Load(path string) (Config, error) {
	return LoadFrom(path, env.ToMap(os.Environ()))
}

// LoadFrom is Load with an explicit environment.
func LoadFrom(path string, environment map[string]string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// BindFlags registers the run flags on fs, defaulting to the loaded values.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Input, "input", c.Input, "Input CSV or .txt file (env: INPUT)")
	fs.StringVar(&c.Output, "output", c.Output, "Output CSV file, appended to when it exists (env: OUTPUT)")
	fs.BoolVar(&c.AuditColumns, "audit-columns", c.AuditColumns, "Append stage/validated/error columns to the CSV (env: AUDIT_COLUMNS)")
	fs.StringVar(&c.StoreDSN, "store-dsn", c.StoreDSN, "postgres:// or mysql:// DSN for upserts, empty disables (env: STORE_DSN)")
	fs.BoolVar(&c.AutoMigrate, "auto-migrate", c.AutoMigrate, "Apply schema migrations before the run (env: AUTO_MIGRATE)")
	fs.StringVar(&c.CalcDate, "calc-date", c.CalcDate, "Equity calculation date YYYY-MM-DD, default today (env: CALC_DATE)")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Number of concurrent workers (env: WORKERS)")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", c.RateLimitRPS, "Property provider rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", c.RateLimitBurst, "Property provider burst capacity (env: RATE_LIMIT_BURST)")
	fs.Float64Var(&c.ValidationRateLimitRPS, "validation-rate-limit-rps", c.ValidationRateLimitRPS, "Normalizer rate limit (RPS), 0 disables (env: VALIDATION_RATE_LIMIT_RPS)")
	fs.IntVar(&c.MaxAttempts, "max-attempts", c.MaxAttempts, "Attempts per provider call including the first (env: MAX_ATTEMPTS)")
	fs.DurationVar(&c.BackoffBase, "backoff-base", c.BackoffBase, "Initial retry backoff (env: BACKOFF_BASE)")
	fs.DurationVar(&c.BackoffMax, "backoff-max", c.BackoffMax, "Maximum retry backoff (env: BACKOFF_MAX)")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "Per-attempt request timeout (env: REQUEST_TIMEOUT)")
	fs.DurationVar(&c.RunTimeout, "timeout", c.RunTimeout, "Overall run timeout, 0 disables (env: RUN_TIMEOUT)")
	fs.StringVar(&c.Normalizer, "normalizer", c.Normalizer, "Address normalizer: addressvalidation, gemini or none (env: NORMALIZER)")
	fs.StringVar(&c.Attom.BaseURL, "attom-base-url", c.Attom.BaseURL, "Property provider base URL override (env: ATTOM_BASE_URL)")
	fs.StringVar(&c.Validation.BaseURL, "validation-base-url", c.Validation.BaseURL, "Address validation base URL override (env: ADDRESS_VALIDATION_BASE_URL)")
	fs.StringVar(&c.Gemini.Model, "gemini-model", c.Gemini.Model, "Gemini model name (env: GEMINI_MODEL)")
	fs.StringVar(&c.Gemini.BaseURL, "gemini-base-url", c.Gemini.BaseURL, "Gemini API base URL override (env: GEMINI_BASE_URL)")
	fs.StringVar(&c.Redis.Addr, "redis-addr", c.Redis.Addr, "Redis address for the resolution cache, empty disables (env: REDIS_ADDR)")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level (env: LOG_LEVEL)")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format: json or console (env: LOG_FORMAT)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Serve Prometheus metrics on this address, empty disables (env: METRICS_ADDR)")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "Listen address for serve (env: HTTP_ADDR)")
}

// CalcTime parses CalcDate. The zero time means the run date.
func (c Config) CalcTime() (time.Time, error) {
	s := strings.TrimSpace(c.CalcDate)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(CalcDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("calc_date %q must be YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

// ValidationError carries every configuration problem found.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems()))
	for _, p := range e.Problems() {
		msgs = append(msgs, p.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Problems lists the individual problems.
func (e *ValidationError) Problems() []error {
	return multierr.Errors(e.Err)
}

// Validate reports every problem at once for the given mode.
func (c Config) Validate(mode Mode) error {
	var err error
	add := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	if mode == ModeMigrate {
		if strings.TrimSpace(c.StoreDSN) == "" {
			add("store_dsn is required")
		} else if _, _, perr := storage.ParseDSN(c.StoreDSN); perr != nil {
			err = multierr.Append(err, perr)
		}
		return wrap(err)
	}

	if mode == ModeBatch {
		if strings.TrimSpace(c.Input) == "" {
			add("input is required")
		}
		if strings.TrimSpace(c.Output) == "" {
			add("output is required")
		}
	}
	if strings.TrimSpace(c.Attom.APIKey) == "" {
		add("ATTOM_API_KEY is required")
	}
	switch c.Normalizer {
	case NormalizerAddressValidation:
		if strings.TrimSpace(c.Validation.APIKey) == "" {
			add("ADDRESS_VALIDATION_API_KEY is required for normalizer %q", c.Normalizer)
		}
	case NormalizerGemini:
		if strings.TrimSpace(c.Gemini.APIKey) == "" {
			add("GEMINI_API_KEY is required for normalizer %q", c.Normalizer)
		}
		if strings.TrimSpace(c.Gemini.Model) == "" {
			add("GEMINI_MODEL is required for normalizer %q", c.Normalizer)
		}
	case NormalizerNone:
	default:
		add("normalizer must be one of %s, %s, %s (got %q)", NormalizerAddressValidation, NormalizerGemini, NormalizerNone, c.Normalizer)
	}
	if strings.TrimSpace(c.StoreDSN) != "" {
		if _, _, perr := storage.ParseDSN(c.StoreDSN); perr != nil {
			err = multierr.Append(err, perr)
		}
	} else if c.AutoMigrate {
		add("auto_migrate requires store_dsn")
	}
	if _, cerr := c.CalcTime(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if c.Workers < 1 {
		add("workers must be >= 1 (got %d)", c.Workers)
	}
	if c.RateLimitRPS < 0 {
		add("rate_limit_rps must be >= 0 (got %g)", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		add("rate_limit_burst must be >= 1 (got %d)", c.RateLimitBurst)
	}
	if c.ValidationRateLimitRPS < 0 {
		add("validation_rate_limit_rps must be >= 0 (got %g)", c.ValidationRateLimitRPS)
	}
	if c.MaxAttempts < 1 {
		add("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.BackoffBase <= 0 {
		add("backoff_base must be > 0")
	}
	if c.BackoffMax < c.BackoffBase {
		add("backoff_max must be >= backoff_base")
	}
	if c.RequestTimeout <= 0 {
		add("request_timeout must be > 0")
	}
	if c.RunTimeout < 0 {
		add("run_timeout must be >= 0")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		add("log format must be json or console (got %q)", c.Log.Format)
	}
	return wrap(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}
