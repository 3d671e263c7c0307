package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/core"
)

// statusCoder is implemented by errors that carry an HTTP status, such as httpx.HTTPError.
type statusCoder interface {
	HTTPStatus() int
}

// StatusOf returns the HTTP status carried by err, or 0 when there is none.
func StatusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// ExhaustedError reports that every allowed attempt of an operation failed with a
// retryable error, or that retrying was abandoned because the run was cancelled.
type ExhaustedError struct {
	Op         string
	Attempts   int
	LastStatus int
	// Canceled is set when the caller's context ended before the attempts ran out.
	Canceled bool
	Err      error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return "retries exhausted"
	}
	status := "none"
	if e.LastStatus != 0 {
		status = fmt.Sprintf("%d", e.LastStatus)
	}
	return fmt.Sprintf("%s: gave up after %d attempt(s) (last status %s): %v", e.Op, e.Attempts, status, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether err is worth another attempt: 429, 5xx, timeouts,
// connection failures and anything explicitly marked transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	if status := StatusOf(err); status != 0 {
		return status == 429 || status/100 == 5
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
