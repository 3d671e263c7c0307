package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
)

// providerErrorEnvelope covers the error shapes returned by the providers we call:
// Google-style {"error":{"code","message","status"}} and ATTOM-style {"status":{"code","msg"}}.
type providerErrorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
	Status *struct {
		Msg string `json:"msg"`
	} `json:"status"`
}

// HTTPError is a sanitized summary of a non-2xx provider response.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Provider   string
	Op         string
	StatusCode int
	Status     string

	// Message is the provider's own error message, when it sent one.
	Message string

	// Snippet is a redacted, truncated hint for responses without a known envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "provider http error"
	}
	parts := []string{
		fmt.Sprintf("%s api error: op=%s status=%s", strings.TrimSpace(e.Provider), strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// HTTPStatus exposes the status code to retry classification.
func (e *HTTPError) HTTPStatus() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// NewHTTPError builds an HTTPError from a non-2xx response and its body.
func NewHTTPError(provider, op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{
		Provider: provider,
		Op:       op,
	}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	// Best effort: parse a known error envelope.
	var env providerErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		switch {
		case env.Error != nil && strings.TrimSpace(env.Error.Message) != "":
			h.Message = truncate(redact.Secrets(env.Error.Message))
			return h
		case env.Status != nil && strings.TrimSpace(env.Status.Msg) != "":
			h.Message = truncate(redact.Secrets(env.Status.Msg))
			return h
		}
	}

	// Fallback: include a small, redacted hint only.
	h.Snippet = redactAndTruncate(body)
	return h
}

const maxSnippet = 256

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxSnippet {
		return s[:maxSnippet] + "..."
	}
	return s
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	b := body
	if len(b) > maxSnippet {
		b = b[:maxSnippet]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > maxSnippet {
		return s + "..."
	}
	return s
}
