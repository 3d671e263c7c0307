package schema

import (
	"fmt"
	"strings"
)

// Field captures the minimal behavior-relevant schema fields.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// Contract is the logical column contract of the flat output.
type Contract struct {
	Fields []Field
}

// Output is the fixed flat-output schema. Downstream consumers depend on these
// columns and their order.
var Output = Contract{Fields: []Field{
	{Name: "raw_address", Type: "string"},
	{Name: "canonical_address", Type: "string"},
	{Name: "attom_id", Type: "string", Nullable: true},
	{Name: "est_balance", Type: "decimal", Nullable: true},
	{Name: "available_equity", Type: "decimal", Nullable: true},
	{Name: "ltv", Type: "decimal", Nullable: true},
	{Name: "loans_count", Type: "integer"},
	{Name: "processed_at", Type: "timestamp"},
}}

// Audit columns are appended after Output when enabled.
var Audit = Contract{Fields: []Field{
	{Name: "stage", Type: "string"},
	{Name: "validated", Type: "boolean"},
	{Name: "error", Type: "string", Nullable: true},
}}

// Names returns the column names in order.
func (c Contract) Names() []string {
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Name
	}
	return out
}

// Header returns the flat-output header, with audit columns when audit is set.
func Header(audit bool) []string {
	h := Output.Names()
	if audit {
		h = append(h, Audit.Names()...)
	}
	return h
}

// CheckHeader verifies that an existing file's header matches the one we would write,
// so appends never mix column layouts.
func CheckHeader(got []string, audit bool) error {
	want := Header(audit)
	if len(got) != len(want) {
		return fmt.Errorf("existing header has %d columns, want %d (%s)", len(got), len(want), strings.Join(want, ","))
	}
	for i := range want {
		if !strings.EqualFold(strings.TrimSpace(got[i]), want[i]) {
			return fmt.Errorf("existing header column %d is %q, want %q", i+1, got[i], want[i])
		}
	}
	return nil
}
