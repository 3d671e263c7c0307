package core

import "context"

// InputAdapter loads input records for pipeline processing.
type InputAdapter[In any] interface {
	Load(ctx context.Context) ([]In, error)
}

// OutputAdapter persists one output record as soon as it is produced.
//
// Emit is called from a single goroutine per run but implementations shared across
// runs (for example in server mode) must be safe for concurrent use.
type OutputAdapter[Out any] interface {
	Emit(ctx context.Context, out Out) error
}

// TransientError marks an error as retryable by retry implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
