package enrich_test

import (
	"testing"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
)

func TestRecordKey(t *testing.T) {
	a := enrich.RecordKey("123 Main St, Springfield, IL 62701")
	b := enrich.RecordKey("  123  MAIN st, springfield, il 62701 ")
	if a != b {
		t.Fatalf("expected case and whitespace insensitive keys, got %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
	if a == enrich.RecordKey("124 Main St, Springfield, IL 62701") {
		t.Fatalf("different addresses must not collide")
	}
}
