package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shpitdev/home-equity-pipeline/internal/httpx"
)

// DefaultAddressValidationURL is the public Address Validation API host.
const DefaultAddressValidationURL = "https://addressvalidation.googleapis.com"

// AddressValidationConfig configures the address validation backend.
type AddressValidationConfig struct {
	APIKey  string
	BaseURL string
	// RegionCode defaults to "US".
	RegionCode string
}

// AddressValidation calls a v1:validateAddress endpoint.
type AddressValidation struct {
	base       *url.URL
	apiKey     string
	regionCode string
	http       *http.Client
}

func NewAddressValidation(cfg AddressValidationConfig, hc *http.Client) (*AddressValidation, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("address validation api key is required")
	}
	raw := cfg.BaseURL
	if strings.TrimSpace(raw) == "" {
		raw = DefaultAddressValidationURL
	}
	base, err := httpx.ParseBaseURL(raw, "address validation")
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	region := strings.TrimSpace(cfg.RegionCode)
	if region == "" {
		region = "US"
	}
	return &AddressValidation{
		base:       base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		regionCode: region,
		http:       hc,
	}, nil
}

type validateRequest struct {
	Address struct {
		RegionCode   string   `json:"regionCode"`
		AddressLines []string `json:"addressLines"`
	} `json:"address"`
}

type validateResponse struct {
	Result struct {
		Verdict struct {
			AddressComplete          bool   `json:"addressComplete"`
			HasUnconfirmedComponents bool   `json:"hasUnconfirmedComponents"`
			ValidationGranularity    string `json:"validationGranularity"`
		} `json:"verdict"`
		Address struct {
			FormattedAddress string `json:"formattedAddress"`
		} `json:"address"`
	} `json:"result"`
}

// Validate returns the provider's formatted address, or ErrNoMatch when the
// provider could not confirm a complete address.
func (a *AddressValidation) Validate(ctx context.Context, address string) (string, error) {
	var body validateRequest
	body.Address.RegionCode = a.regionCode
	body.Address.AddressLines = []string{address}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	u := httpx.Resolve(a.base, "v1:validateAddress", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", a.apiKey)

	var out validateResponse
	if err := httpx.DoJSON(a.http, req, "addressvalidation", "validateAddress", &out); err != nil {
		return "", err
	}

	v := out.Result.Verdict
	formatted := CollapseSpace(out.Result.Address.FormattedAddress)
	if formatted == "" || !v.AddressComplete || v.HasUnconfirmedComponents {
		return "", ErrNoMatch
	}
	return formatted, nil
}
