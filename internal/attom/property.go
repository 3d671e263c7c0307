package attom

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

const propertyAddressPath = "propertyapi/v1.0.0/property/address"

type propertyAddressResponse struct {
	Property []struct {
		Identifier struct {
			AttomID json.RawMessage `json:"attomId"`
			ID      json.RawMessage `json:"Id"`
		} `json:"identifier"`
	} `json:"property"`
}

// ResolveProperty looks up the provider's property identifier for a canonical address.
//
// An empty id with a nil error means the provider has no matching property. Transport
// failures, 429 and 5xx are retried; exhaustion surfaces as *retry.ExhaustedError.
func (c *Client) ResolveProperty(ctx context.Context, canonical string) (string, error) {
	address1, address2 := SplitAddress(canonical)
	q := url.Values{}
	q.Set("address1", address1)
	if address2 != "" {
		q.Set("address2", address2)
	}

	id, err := retry.Do(ctx, c.exec, "resolve_property", func(ctx context.Context) (string, error) {
		var out propertyAddressResponse
		if err := c.get(ctx, "propertyAddress", propertyAddressPath, q, &out); err != nil {
			return "", err
		}
		if len(out.Property) == 0 {
			return "", nil
		}
		ident := out.Property[0].Identifier
		if id := rawID(ident.AttomID); id != "" {
			return id, nil
		}
		return rawID(ident.ID), nil
	})
	if err != nil {
		if isNoMatch(err) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// SplitAddress splits "street, city, ST zip" on the first comma into the provider's
// address1/address2 parameters. A trailing country suffix is dropped.
func SplitAddress(canonical string) (string, string) {
	s := strings.Join(strings.Fields(canonical), " ")
	s = strings.TrimSuffix(s, ", USA")
	s = strings.TrimSuffix(s, ", US")
	street, rest, ok := strings.Cut(s, ",")
	if !ok {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(street), strings.TrimSpace(rest)
}

// rawID accepts identifiers encoded either as JSON numbers or strings.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
