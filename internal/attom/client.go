// Package attom is a thin typed client for the two property-data endpoints the
// enricher needs: address to property identifier, and identifier to home equity.
package attom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shpitdev/home-equity-pipeline/internal/httpx"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

// DefaultBaseURL is the production API gateway.
const DefaultBaseURL = "https://api.gateway.attomdata.com"

const provider = "attom"

type Config struct {
	APIKey  string
	BaseURL string
}

// Client issues provider calls through a retry executor. The executor's limiter is the
// run-wide property-provider budget, so every attempt of every call is rate limited.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	exec   *retry.Executor
}

func New(cfg Config, hc *http.Client, exec *retry.Executor) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("attom api key is required")
	}
	raw := cfg.BaseURL
	if strings.TrimSpace(raw) == "" {
		raw = DefaultBaseURL
	}
	base, err := httpx.ParseBaseURL(raw, "attom")
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if exec == nil {
		exec = retry.New(nil, retry.Policy{})
	}
	return &Client{
		base:   base,
		apiKey: strings.TrimSpace(cfg.APIKey),
		http:   hc,
		exec:   exec,
	}, nil
}

func (c *Client) get(ctx context.Context, op, relPath string, q url.Values, out any) error {
	u := httpx.Resolve(c.base, relPath, q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	return httpx.DoJSON(c.http, req, provider, op, out)
}

// isNoMatch reports provider answers that mean "nothing found for this input" rather
// than a failure: the gateway uses 400 for SuccessWithoutResult and 404/422 for
// unparseable or unknown addresses.
func isNoMatch(err error) bool {
	var he *httpx.HTTPError
	if !errors.As(err, &he) {
		return false
	}
	switch he.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// IsAuthError reports whether err is a credentials rejection (401/403). Such errors are
// never retried and fail the address.
func IsAuthError(err error) bool {
	switch retry.StatusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	default:
		return false
	}
}
