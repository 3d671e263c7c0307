package schema_test

import (
	"strings"
	"testing"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/schema"
)

func TestHeader(t *testing.T) {
	got := strings.Join(schema.Header(false), ",")
	want := "raw_address,canonical_address,attom_id,est_balance,available_equity,ltv,loans_count,processed_at"
	if got != want {
		t.Fatalf("Header(false)=%q want=%q", got, want)
	}
	if got := strings.Join(schema.Header(true), ","); got != want+",stage,validated,error" {
		t.Fatalf("Header(true)=%q", got)
	}
}

func TestCheckHeader(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		audit   bool
		wantErr bool
	}{
		{name: "exact", in: schema.Header(false)},
		{name: "case-insensitive", in: []string{"RAW_ADDRESS", "canonical_address", "attom_id", "est_balance", "available_equity", "ltv", "loans_count", " processed_at"}},
		{name: "audit mismatch", in: schema.Header(false), audit: true, wantErr: true},
		{name: "reordered", in: []string{"canonical_address", "raw_address", "attom_id", "est_balance", "available_equity", "ltv", "loans_count", "processed_at"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.CheckHeader(tt.in, tt.audit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckHeader err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
