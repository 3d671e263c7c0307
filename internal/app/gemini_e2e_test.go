//go:build gemini_e2e

package app_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shpitdev/home-equity-pipeline/internal/app"
	"github.com/shpitdev/home-equity-pipeline/internal/config"
	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
)

// TestRunBatch_RealGemini_EndToEnd normalizes through the live Gemini API and resolves
// against the mock property provider.
func TestRunBatch_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		t.Fatalf("GEMINI_MODEL is required for gemini_e2e tests")
	}

	mock, cfg := newMock(t)
	// Canonical form the model is expected to produce for the messy input below.
	mock.AddProperty("1600 Pennsylvania Ave NW, Washington, DC 20500", "1", nil)
	cfg.Normalizer = config.NormalizerGemini
	cfg.Gemini = config.GeminiConfig{APIKey: apiKey, Model: model, BaseURL: os.Getenv("GEMINI_BASE_URL")}
	cfg.RequestTimeout = 60 * time.Second
	writeInput(t, cfg.Input, "1600 pennsylvania avenue northwest washington dc")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	summary, err := app.RunBatch(ctx, cfg, app.Deps{})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if summary.Attempted != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	_, rows, _ := readOutput(t, cfg.Output)
	r := rows["1600 pennsylvania avenue northwest washington dc"]
	t.Logf("canonical=%q stage=%s", r[1], r[8])
	if r[9] != "true" {
		t.Fatalf("expected a validated address, got %q", r)
	}
	if r[8] != string(enrich.StageEquityFetched) {
		t.Logf("model output did not match the fixture exactly; resolution stopped at %s", r[8])
	}
}
