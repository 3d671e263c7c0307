package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/internal/app"
	"github.com/shpitdev/home-equity-pipeline/internal/config"
	"github.com/shpitdev/home-equity-pipeline/internal/logging"
	"github.com/shpitdev/home-equity-pipeline/internal/metrics"
	"github.com/shpitdev/home-equity-pipeline/internal/server"
	"github.com/shpitdev/home-equity-pipeline/internal/storage"
	"github.com/shpitdev/home-equity-pipeline/internal/version"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	// A missing .env is fine; values then come from the environment alone.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var code int
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
	case "version", "--version":
		_, _ = fmt.Fprintln(os.Stdout, version.UserAgent())
	case "batch":
		code = runBatch(ctx, os.Args[2:])
	case "enrich":
		code = runEnrich(ctx, os.Args[2:])
	case "serve":
		code = runServe(ctx, os.Args[2:])
	case "migrate":
		code = runMigrate(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = 2
	}
	stop()
	os.Exit(code)
}

// setup loads configuration for a subcommand, binds its flags and validates it.
// A non-zero code means the command must exit with it.
func setup(name string, args []string, mode config.Mode) (config.Config, *flag.FlagSet, *zap.Logger, int) {
	path := configPath(args)
	cfg, err := config.Load(path)
	if err != nil {
		printErr("config error", err)
		return config.Config{}, nil, nil, 2
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.String("config", path, "YAML config file (env: ENRICHER_CONFIG)")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, nil, nil, 2
	}
	if err := cfg.Validate(mode); err != nil {
		printErr("config error", err)
		return config.Config{}, nil, nil, 2
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		printErr("config error", err)
		return config.Config{}, nil, nil, 2
	}
	return cfg, fs, logger.With(zap.String("version", version.Current)), 0
}

func configPath(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("ENRICHER_CONFIG")
}

func newMetrics(logger *zap.Logger) (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		logger.Warn("register metrics", zap.Error(err))
	}
	return m, reg
}

func runBatch(ctx context.Context, args []string) int {
	cfg, _, logger, code := setup("batch", args, config.ModeBatch)
	if code != 0 {
		return code
	}
	defer func() {
		_ = logger.Sync()
	}()

	m, reg := newMetrics(logger)
	if cfg.MetricsAddr != "" {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		go func() {
			if err := server.ListenAndServe(mctx, cfg.MetricsAddr, mux, logger.Named("metrics")); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	summary, err := app.RunBatch(ctx, cfg, app.Deps{Logger: logger, Metrics: m})
	if reportsSummary(err) {
		printJSON(os.Stdout, summary)
	}
	if err != nil {
		printErr("batch run failed", err)
		if !reportsSummary(err) {
			return 2
		}
		return 1
	}
	return 0
}

// reportsSummary is false only for configuration errors. Any run that got past
// validation prints its counts, including one cancelled before the first result.
func reportsSummary(err error) bool {
	var ve *config.ValidationError
	return !errors.As(err, &ve)
}

func runEnrich(ctx context.Context, args []string) int {
	cfg, fs, logger, code := setup("enrich", args, config.ModeEnrich)
	if code != 0 {
		return code
	}
	defer func() {
		_ = logger.Sync()
	}()

	address := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if address == "" {
		_, _ = fmt.Fprintln(os.Stderr, "enrich requires an address argument")
		return 2
	}

	p, err := app.Build(ctx, cfg, app.Deps{Logger: logger})
	if err != nil {
		printErr("enrich failed", err)
		return 1
	}
	defer func() {
		_ = p.Close()
	}()

	res, err := p.EnrichOne(ctx, address)
	printJSON(os.Stdout, server.ToJSON(res))
	if err != nil {
		printErr("enrich failed", err)
		return 1
	}
	return 0
}

func runServe(ctx context.Context, args []string) int {
	cfg, _, logger, code := setup("serve", args, config.ModeServe)
	if code != 0 {
		return code
	}
	defer func() {
		_ = logger.Sync()
	}()

	m, reg := newMetrics(logger)
	p, err := app.Build(ctx, cfg, app.Deps{Logger: logger, Metrics: m})
	if err != nil {
		printErr("serve failed", err)
		return 1
	}
	defer func() {
		_ = p.Close()
	}()

	srv := server.New(p, reg, logger.Named("http"))
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr, srv.Routes(), logger); err != nil {
		printErr("serve failed", err)
		return 1
	}
	return 0
}

func runMigrate(ctx context.Context, args []string) int {
	cfg, _, logger, code := setup("migrate", args, config.ModeMigrate)
	if code != 0 {
		return code
	}
	defer func() {
		_ = logger.Sync()
	}()

	applied, err := storage.Migrate(ctx, cfg.StoreDSN, logger)
	if err != nil {
		printErr("migrate failed", err)
		return 1
	}
	printJSON(os.Stdout, map[string]any{"applied": applied})
	return 0
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printErr(prefix string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, redact.Secrets(err.Error()))
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `enricher: home-equity enrichment for property addresses

Usage:
  enricher <command> [flags]

Commands:
  batch    Enrich every address of --input and append results to --output (and the store)
  enrich   Enrich one address given as arguments and print the result as JSON
  serve    Serve POST /v1/enrich and GET /v1/properties/{key} on --http-addr
  migrate  Apply relational schema migrations to --store-dsn
  version  Print the version

Examples:
  enricher batch --input addresses.csv --output enriched.csv
  enricher batch --input addresses.csv --output enriched.csv --store-dsn postgres://u:p@db/equity --auto-migrate
  enricher enrich "123 Main St, Springfield, IL 62701"

Configuration is read from defaults, then --config/ENRICHER_CONFIG (YAML), then
.env and the environment, then flags. Run "enricher batch -h" for every flag.

Environment (credentials):
  ATTOM_API_KEY               Property data API key (required)
  ADDRESS_VALIDATION_API_KEY  Address validation key (normalizer=addressvalidation)
  GEMINI_API_KEY              Gemini key (normalizer=gemini), with GEMINI_MODEL
  STORE_DSN                   postgres:// or mysql:// DSN (optional)
  REDIS_ADDR, REDIS_PASSWORD  Resolution cache (optional)

`)
}
