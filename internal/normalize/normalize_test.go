package normalize_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shpitdev/home-equity-pipeline/internal/normalize"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

type fakeValidator struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, address string) (string, error)
}

func (f *fakeValidator) Validate(_ context.Context, address string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, address)
}

func fastExec() *retry.Executor {
	return retry.New(nil, retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		JitterFrac:  -1,
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	const raw = "  123  main st,   springfield IL 62701 "

	tests := []struct {
		name      string
		fn        func(call int, address string) (string, error)
		want      normalize.Address
		wantCalls int
	}{
		{
			name: "validated",
			fn: func(_ int, address string) (string, error) {
				if address != "123 main st, springfield IL 62701" {
					return "", errors.New("whitespace not collapsed: " + address)
				}
				return "123 Main St, Springfield, IL 62701", nil
			},
			want:      normalize.Address{Canonical: "123 Main St, Springfield, IL 62701", Validated: true},
			wantCalls: 1,
		},
		{
			name:      "no match falls back",
			fn:        func(int, string) (string, error) { return "", normalize.ErrNoMatch },
			want:      normalize.Address{Canonical: raw},
			wantCalls: 1,
		},
		{
			name: "exhausted retries fall back",
			fn: func(int, string) (string, error) {
				return "", &core.TransientError{Err: errors.New("503")}
			},
			want:      normalize.Address{Canonical: raw},
			wantCalls: 3,
		},
		{
			name: "recovers after transient",
			fn: func(call int, _ string) (string, error) {
				if call == 1 {
					return "", &core.TransientError{Err: errors.New("503")}
				}
				return "123 Main St, Springfield, IL 62701", nil
			},
			want:      normalize.Address{Canonical: "123 Main St, Springfield, IL 62701", Validated: true},
			wantCalls: 2,
		},
		{
			name:      "empty provider answer falls back",
			fn:        func(int, string) (string, error) { return "   ", nil },
			want:      normalize.Address{Canonical: raw},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := &fakeValidator{fn: tt.fn}
			got := normalize.New(v, fastExec(), nil).Normalize(context.Background(), raw)
			if got != tt.want {
				t.Fatalf("Normalize=%#v want=%#v", got, tt.want)
			}
			if v.calls != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, v.calls)
			}
		})
	}
}

func TestNormalize_NilValidatorPassesThrough(t *testing.T) {
	t.Parallel()

	got := normalize.New(nil, nil, nil).Normalize(context.Background(), "1 Elm St")
	if got.Canonical != "1 Elm St" || got.Validated {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestAddressValidation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1:validateAddress" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Goog-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
			return
		}
		var body struct {
			Address struct {
				RegionCode   string   `json:"regionCode"`
				AddressLines []string `json:"addressLines"`
			} `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Address.AddressLines) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Address.RegionCode != "US" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch body.Address.AddressLines[0] {
		case "123 main st springfield il":
			_, _ = w.Write([]byte(`{"result":{"verdict":{"addressComplete":true},"address":{"formattedAddress":"123 Main St, Springfield, IL 62701-1234, USA"}}}`))
		case "main st":
			_, _ = w.Write([]byte(`{"result":{"verdict":{"addressComplete":false,"hasUnconfirmedComponents":true},"address":{"formattedAddress":"Main St, USA"}}}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	av, err := normalize.NewAddressValidation(normalize.AddressValidationConfig{APIKey: "test-key", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := av.Validate(context.Background(), "123 main st springfield il")
	if err != nil || got != "123 Main St, Springfield, IL 62701-1234, USA" {
		t.Fatalf("unexpected result: %q %v", got, err)
	}

	if _, err := av.Validate(context.Background(), "main st"); !errors.Is(err, normalize.ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}

	_, err = av.Validate(context.Background(), "boom")
	if !retry.Retryable(err) || retry.StatusOf(err) != 503 {
		t.Fatalf("expected retryable 503, got %v", err)
	}

	bad, err := normalize.NewAddressValidation(normalize.AddressValidationConfig{APIKey: "wrong", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = bad.Validate(context.Background(), "123 main st springfield il")
	if retry.Retryable(err) || retry.StatusOf(err) != 403 {
		t.Fatalf("expected non-retryable 403, got %v", err)
	}
}

func TestNewAddressValidation_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := normalize.NewAddressValidation(normalize.AddressValidationConfig{}, nil); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
