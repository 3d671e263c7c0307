package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/schema"
)

// CSVSink appends one row per result. Rows are flushed as they are written, so a
// cancelled run keeps every completed row.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	audit  bool
}

// OpenCSV opens path for appending. A new or empty file gets the header; an existing
// file must already carry the same header.
func OpenCSV(path string, audit bool) (*CSVSink, error) {
	writeHeader, err := prepareCSV(path, audit)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	s := &CSVSink{w: csv.NewWriter(f), closer: f, audit: audit}
	if writeHeader {
		if err := s.writeRow(schema.Header(audit)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return s, nil
}

// NewCSV writes to w, starting with the header when header is set.
func NewCSV(w io.Writer, audit, header bool) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(w), audit: audit}
	if header {
		if err := s.writeRow(schema.Header(audit)); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return s, nil
}

func prepareCSV(path string, audit bool) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("open output: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read existing header: %w", err)
	}
	if err := schema.CheckHeader(header, audit); err != nil {
		return false, fmt.Errorf("append to %s: %w", path, err)
	}
	return false, nil
}

func (s *CSVSink) Emit(_ context.Context, res enrich.Result) error {
	return s.writeRow(Row(res, s.audit))
}

func (s *CSVSink) writeRow(rec []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(rec); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}

// Row renders res in schema.Header order. Nulls are empty cells.
func Row(res enrich.Result, audit bool) []string {
	row := []string{
		res.RawAddress,
		res.CanonicalAddress,
		res.AttomID,
		nullDecimal(res.EstBalance),
		nullDecimal(res.AvailableEquity),
		nullDecimal(res.LTV),
		strconv.Itoa(res.LoansCount),
		res.ProcessedAt.UTC().Format(time.RFC3339Nano),
	}
	if audit {
		errText := ""
		if res.Err != nil {
			errText = redact.Secrets(res.Err.Error())
		}
		row = append(row, string(res.Stage), strconv.FormatBool(res.Validated), errText)
	}
	return row
}

func nullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
