package httpx

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/shpitdev/home-equity-pipeline/internal/version"
)

// maxBody caps how much of a provider response we read into memory.
const maxBody = 4 << 20

// ParseBaseURL validates a provider base URL. Scheme defaults to https.
func ParseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Resolve joins relPath onto base and attaches query.
func Resolve(base *url.URL, relPath string, query url.Values) *url.URL {
	u := base.ResolveReference(&url.URL{Path: strings.TrimLeft(relPath, "/")})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

// NewHTTPClient returns a client with a cloned default transport. caPath is optional and,
// when provided, replaces the system trust store.
//
// The client carries no overall timeout; callers bound each request with a context.
func NewHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 32
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: &userAgentTransport{next: tr}}, nil
}

type userAgentTransport struct {
	next http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", version.UserAgent())
	}
	return t.next.RoundTrip(req)
}

// DoJSON sends req and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx responses become *HTTPError.
func DoJSON(hc *http.Client, req *http.Request, provider, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", provider, op, err)
	}
	if resp.StatusCode/100 != 2 {
		return NewHTTPError(provider, op, resp, b)
	}
	if out == nil || len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s %s: parse response: %w", provider, op, err)
	}
	return nil
}

