package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/core"
)

type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Gemini standardizes addresses with a structured-output model call. It is the
// fallback backend for deployments without an address validation key.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg GeminiConfig, hc *http.Client) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

type geminiAddress struct {
	CanonicalAddress string `json:"canonical_address"`
	Match            bool   `json:"match"`
}

var addressSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"canonical_address": {Type: genai.TypeString},
		"match":             {Type: genai.TypeBoolean},
	},
	Required: []string{"canonical_address", "match"},
}

func (g *Gemini) Validate(ctx context.Context, address string) (string, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(buildPrompt(address)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   addressSchema,
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}
	return parseGeminiAddress(resp.Text())
}

func parseGeminiAddress(text string) (string, error) {
	var parsed geminiAddress
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return "", fmt.Errorf("gemini: parse structured json: %w", err)
	}
	canonical := CollapseSpace(parsed.CanonicalAddress)
	if !parsed.Match || canonical == "" {
		return "", ErrNoMatch
	}
	return canonical, nil
}

func buildPrompt(address string) string {
	return strings.TrimSpace(`
You standardize United States postal addresses.

Return ONLY a single JSON object with these keys:
- canonical_address (string): the address in USPS standard form, formatted as
  "<number> <street> <suffix> [unit], <city>, <ST> <ZIP5>"
- match (boolean): true only if the input identifies exactly one deliverable address

Rules:
- Do not guess missing house numbers, cities or ZIP codes.
- If the input is ambiguous or incomplete, set match to false and canonical_address to "".
- Do not include extra keys.

Address: ` + address + `
`)
}

func classifyErr(err error) error {
	// Wrap transient failures so the retry executor backs off and tries again.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
