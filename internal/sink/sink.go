// Package sink persists enrichment results: an append-only CSV of every result and
// an upserted relational table of successful ones.
package sink

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/shpitdev/home-equity-pipeline/internal/enrich"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/core"
)

// Sink receives every result of a run.
type Sink interface {
	core.OutputAdapter[enrich.Result]
	Close() error
}

// Error tags a failure with the sink that produced it.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s sink: %v", e.Sink, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Named pairs a sink with the label used in errors and metrics.
type Named struct {
	Name string
	Sink Sink
}

// Dual writes each result to every sink. A failing sink never prevents the others
// from receiving the result; all failures come back combined as *Error values.
type Dual struct {
	sinks []Named
}

// NewDual fans out to sinks, skipping nil entries.
func NewDual(sinks ...Named) *Dual {
	d := &Dual{}
	for _, s := range sinks {
		if s.Sink != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

func (d *Dual) Emit(ctx context.Context, res enrich.Result) error {
	var err error
	for _, s := range d.sinks {
		if e := s.Sink.Emit(ctx, res); e != nil {
			err = multierr.Append(err, &Error{Sink: s.Name, Err: e})
		}
	}
	return err
}

func (d *Dual) Close() error {
	var err error
	for _, s := range d.sinks {
		if e := s.Sink.Close(); e != nil {
			err = multierr.Append(err, &Error{Sink: s.Name, Err: e})
		}
	}
	return err
}

// Errors splits an Emit or Close error into per-sink failures.
func Errors(err error) []*Error {
	var out []*Error
	for _, e := range multierr.Errors(err) {
		if se, ok := e.(*Error); ok {
			out = append(out, se)
			continue
		}
		out = append(out, &Error{Sink: "unknown", Err: e})
	}
	return out
}
