// Package local reads input addresses from files on disk.
package local

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AddressColumns are the accepted address column names, in priority order.
var AddressColumns = []string{"address", "raw_address", "full_address", "property_address", "street_address"}

// ReadAddressesCSV reads the address column of a CSV file. The column is the first
// entry of AddressColumns present in the header, matched case-insensitively. Blank
// values are skipped.
func ReadAddressesCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := addressColumn(header)
	if idx < 0 {
		return nil, fmt.Errorf("missing address column (want one of %s)", strings.Join(AddressColumns, ", "))
	}

	var out []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx >= len(rec) {
			continue
		}
		if v := strings.TrimSpace(rec[idx]); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func addressColumn(header []string) int {
	for _, want := range AddressColumns {
		for i, col := range header {
			col = strings.TrimPrefix(col, "\ufeff")
			if strings.EqualFold(strings.TrimSpace(col), want) {
				return i
			}
		}
	}
	return -1
}

// ReadAddressesText reads one address per line, skipping blank lines.
func ReadAddressesText(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []string
	for sc.Scan() {
		if v := strings.TrimSpace(sc.Text()); v != "" {
			out = append(out, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}

// FileSource loads addresses from a .csv or .txt file.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if strings.EqualFold(filepath.Ext(s.Path), ".txt") {
		return ReadAddressesText(f)
	}
	return ReadAddressesCSV(f)
}
