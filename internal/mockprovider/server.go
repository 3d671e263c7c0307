// Package mockprovider serves scripted stand-ins for the address validation and
// property-data APIs, for local runs and integration tests.
package mockprovider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Route names one mocked endpoint.
type Route string

const (
	RouteValidate Route = "validate"
	RouteProperty Route = "property"
	RouteEquity   Route = "equity"
)

const (
	validatePath = "/v1:validateAddress"
	propertyPath = "/propertyapi/v1.0.0/property/address"
	equityPath   = "/propertyapi/v1.0.0/valuation/homeequity"
)

// Call records a request made to the mock service.
type Call struct {
	Route  Route
	Method string
	Path   string
	// Key is the normalized address (validate, property) or attom id (equity).
	Key    string
	Status int
	At     time.Time
}

// Equity is the fixture returned by the home-equity endpoint. Amounts are decimal
// strings; empty means the field is omitted from the response.
type Equity struct {
	AvailableEquity string `json:"available_equity"`
	LTV             string `json:"ltv"`
	Loans           []Loan `json:"loans"`
}

type Loan struct {
	AmortizedAmount string `json:"amortized_amount"`
	LoanAmount      string `json:"loan_amount"`
	LenderName      string `json:"lender_name"`
	LoanType        string `json:"loan_type"`
}

type failure struct {
	key       string
	status    int
	remaining int // <0 means forever
}

// Server implements a minimal provider API surface.
type Server struct {
	mu    sync.Mutex
	calls []Call

	validationKey string
	attomKey      string

	addresses  map[string]string // raw key -> canonical
	properties map[string]string // canonical key -> attom id
	equity     map[string]Equity // attom id -> fixture

	failures map[Route][]*failure
	latency  time.Duration
}

// New constructs a new mock server with no fixtures.
func New() *Server {
	return &Server{
		addresses:  make(map[string]string),
		properties: make(map[string]string),
		equity:     make(map[string]Equity),
		failures:   make(map[Route][]*failure),
	}
}

// RequireKeys enforces API keys on the validation (X-Goog-Api-Key) and property
// (apikey) endpoints. Empty keys are not enforced.
func (s *Server) RequireKeys(validationKey, attomKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validationKey = strings.TrimSpace(validationKey)
	s.attomKey = strings.TrimSpace(attomKey)
}

// AddAddress makes the validation endpoint standardize raw into canonical.
// Unknown addresses come back incomplete.
func (s *Server) AddAddress(raw, canonical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[Key(raw)] = canonical
}

// AddProperty registers a property for a canonical address with an optional equity fixture.
func (s *Server) AddProperty(canonical, attomID string, eq *Equity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[Key(canonical)] = attomID
	if eq != nil {
		s.equity[attomID] = *eq
	}
}

// FailAlways makes every call on route whose key matches respond with status.
// An empty key matches every call.
func (s *Server) FailAlways(route Route, key string, status int) {
	s.addFailure(route, key, status, -1)
}

// FailTimes makes the next n matching calls on route respond with status.
func (s *Server) FailTimes(route Route, key string, n int, status int) {
	if n <= 0 {
		return
	}
	s.addFailure(route, key, status, n)
}

func (s *Server) addFailure(route Route, key string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if route != RouteEquity {
		key = normalizeNonEmpty(key)
	}
	s.failures[route] = append(s.failures[route], &failure{key: key, status: status, remaining: n})
}

// SetLatency delays every response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(validatePath, s.handleValidate)
	mux.HandleFunc(propertyPath, s.handleProperty)
	mux.HandleFunc(equityPath, s.handleEquity)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor returns the calls made on one route.
func (s *Server) CallsFor(route Route) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Route == route {
			out = append(out, c)
		}
	}
	return out
}

// Key normalizes an address the way the mock indexes fixtures: lower case, single
// spaces, comma-separated parts trimmed and a trailing country dropped.
func Key(address string) string {
	s := strings.ToLower(strings.Join(strings.Fields(address), " "))
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if n := len(out); n > 1 && (out[n-1] == "usa" || out[n-1] == "us") {
		out = out[:n-1]
	}
	return strings.Join(out, ", ")
}

func normalizeNonEmpty(key string) string {
	if strings.TrimSpace(key) == "" {
		return ""
	}
	return Key(key)
}

// begin applies latency and returns the scripted failure status for a call (0 for none).
func (s *Server) begin(route Route, key string) int {
	s.mu.Lock()
	latency := s.latency
	status := 0
	for _, f := range s.failures[route] {
		if f.remaining == 0 {
			continue
		}
		if f.key != "" && f.key != key {
			continue
		}
		status = f.status
		if f.remaining > 0 {
			f.remaining--
		}
		break
	}
	s.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return status
}

func (s *Server) record(route Route, r *http.Request, key string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Route:  route,
		Method: r.Method,
		Path:   r.URL.Path,
		Key:    key,
		Status: status,
		At:     time.Now(),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Address struct {
			AddressLines []string `json:"addressLines"`
		} `json:"address"`
	}
	b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err := json.Unmarshal(b, &body); err != nil || len(body.Address.AddressLines) == 0 {
		s.record(RouteValidate, r, "", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": 400, "message": "addressLines is required"}})
		return
	}
	key := Key(strings.Join(body.Address.AddressLines, ", "))

	s.mu.Lock()
	expected := s.validationKey
	canonical, ok := s.addresses[key]
	s.mu.Unlock()

	if expected != "" && r.Header.Get("X-Goog-Api-Key") != expected {
		s.record(RouteValidate, r, key, http.StatusForbidden)
		writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"code": 403, "message": "API key not valid"}})
		return
	}
	if status := s.begin(RouteValidate, key); status != 0 {
		s.record(RouteValidate, r, key, status)
		writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": "scripted failure"}})
		return
	}
	s.record(RouteValidate, r, key, http.StatusOK)

	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"result": map[string]any{
				"verdict": map[string]any{"addressComplete": false, "hasUnconfirmedComponents": true},
				"address": map[string]any{"formattedAddress": strings.Join(body.Address.AddressLines, ", ")},
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{
			"verdict": map[string]any{"addressComplete": true, "validationGranularity": "PREMISE"},
			"address": map[string]any{"formattedAddress": canonical},
		},
	})
}

func (s *Server) authorizeAttom(w http.ResponseWriter, r *http.Request, route Route, key string) bool {
	s.mu.Lock()
	expected := s.attomKey
	s.mu.Unlock()

	if expected == "" || r.Header.Get("apikey") == expected {
		return true
	}
	s.record(route, r, key, http.StatusUnauthorized)
	writeJSON(w, http.StatusUnauthorized, map[string]any{"status": map[string]any{"code": 401, "msg": "Invalid API key"}})
	return false
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	key := Key(q.Get("address1") + ", " + q.Get("address2"))
	if !s.authorizeAttom(w, r, RouteProperty, key) {
		return
	}
	if strings.TrimSpace(q.Get("address1")) == "" {
		s.record(RouteProperty, r, key, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": map[string]any{"code": 400, "msg": "address1 is required"}})
		return
	}
	if status := s.begin(RouteProperty, key); status != 0 {
		s.record(RouteProperty, r, key, status)
		writeJSON(w, status, map[string]any{"status": map[string]any{"code": status, "msg": "scripted failure"}})
		return
	}

	s.mu.Lock()
	id, ok := s.properties[key]
	s.mu.Unlock()

	if !ok {
		s.record(RouteProperty, r, key, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": map[string]any{"code": 1, "msg": "SuccessWithoutResult", "total": 0}})
		return
	}
	s.record(RouteProperty, r, key, http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0, "msg": "SuccessWithResult", "total": 1},
		"property": []any{
			map[string]any{"identifier": map[string]any{"attomId": idValue(id)}},
		},
	})
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("attomid"))
	if !s.authorizeAttom(w, r, RouteEquity, id) {
		return
	}
	if _, err := time.Parse(time.DateOnly, q.Get("calculationdate")); err != nil {
		s.record(RouteEquity, r, id, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": map[string]any{"code": 400, "msg": "invalid calculationdate"}})
		return
	}
	if status := s.begin(RouteEquity, id); status != 0 {
		s.record(RouteEquity, r, id, status)
		writeJSON(w, status, map[string]any{"status": map[string]any{"code": status, "msg": "scripted failure"}})
		return
	}

	s.mu.Lock()
	eq, ok := s.equity[id]
	s.mu.Unlock()

	if !ok {
		s.record(RouteEquity, r, id, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": map[string]any{"code": 1, "msg": "SuccessWithoutResult", "total": 0}})
		return
	}
	s.record(RouteEquity, r, id, http.StatusOK)

	homeEquity := map[string]any{}
	setNumber(homeEquity, "estimatedAvailableEquity", eq.AvailableEquity)
	setNumber(homeEquity, "LTV", eq.LTV)
	loans := make([]any, 0, len(eq.Loans))
	for _, l := range eq.Loans {
		m := map[string]any{"lenderName": l.LenderName, "loanType": l.LoanType}
		setNumber(m, "amortizedAmount", l.AmortizedAmount)
		setNumber(m, "loanAmount", l.LoanAmount)
		loans = append(loans, m)
	}
	homeEquity["loans"] = loans

	writeJSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{"code": 0, "msg": "SuccessWithResult", "total": 1},
		"property": []any{
			map[string]any{
				"identifier": map[string]any{"attomId": idValue(id)},
				"homeEquity": homeEquity,
			},
		},
	})
}

// idValue encodes numeric ids as JSON numbers, like the real API, and anything else as a string.
func idValue(id string) any {
	if id == "" {
		return nil
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return id
		}
	}
	return json.Number(id)
}

func setNumber(m map[string]any, field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	m[field] = json.Number(value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
