package mockprovider

import (
	"encoding/json"
	"fmt"
	"io"
)

// Fixtures is the on-disk seed format for cmd/mock-providers.
type Fixtures struct {
	// Addresses maps raw input addresses to the canonical form validation returns.
	Addresses map[string]string `json:"addresses"`

	Properties []PropertyFixture `json:"properties"`
}

type PropertyFixture struct {
	Canonical string  `json:"canonical"`
	AttomID   string  `json:"attom_id"`
	Equity    *Equity `json:"equity,omitempty"`
}

// Load seeds s from a JSON fixtures document.
func (s *Server) Load(r io.Reader) error {
	var f Fixtures
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for raw, canonical := range f.Addresses {
		s.AddAddress(raw, canonical)
	}
	for i, p := range f.Properties {
		if p.Canonical == "" || p.AttomID == "" {
			return fmt.Errorf("property %d: canonical and attom_id are required", i)
		}
		s.AddProperty(p.Canonical, p.AttomID, p.Equity)
	}
	return nil
}
