package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RecordKey is the stable identifier for an address: the hex SHA-256 of its canonical
// form, case-folded with whitespace collapsed. Batch and single-address runs share it,
// so re-enriching an address updates its stored row instead of adding one.
func RecordKey(canonical string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(canonical), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
