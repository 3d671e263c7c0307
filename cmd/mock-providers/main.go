package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/home-equity-pipeline/internal/mockprovider"
)

func main() {
	addr := defaultString("MOCK_PROVIDERS_ADDR", ":8080")
	fixtures := defaultString("MOCK_PROVIDERS_FIXTURES", "")
	validationKey := defaultString("MOCK_PROVIDERS_VALIDATION_KEY", "")
	attomKey := defaultString("MOCK_PROVIDERS_ATTOM_KEY", "")

	fs := flag.NewFlagSet("mock-providers", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&fixtures, "fixtures", fixtures, "JSON fixtures file with addresses and properties")
	fs.StringVar(&validationKey, "validation-key", validationKey, "Require this X-Goog-Api-Key on validation calls (empty = any)")
	fs.StringVar(&attomKey, "attom-key", attomKey, "Require this apikey header on property calls (empty = any)")
	_ = fs.Parse(os.Args[1:])

	srv := mockprovider.New()
	srv.RequireKeys(validationKey, attomKey)
	if strings.TrimSpace(fixtures) != "" {
		f, err := os.Open(fixtures)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "open fixtures: %v\n", err)
			os.Exit(2)
		}
		err = srv.Load(f)
		_ = f.Close()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-providers listening on %s (fixtures=%s)\n", addr, fixtures)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
