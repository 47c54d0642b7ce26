package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Sentinel errors surfaced by the manager. The REST layer maps these onto
// status codes.
var (
	// ErrTaskNotFound - no task with the given id exists in the registry.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTooManyTransfers - the running-task cap is reached; the start is
	// rejected, not queued.
	ErrTooManyTransfers = errors.New("maximum concurrent transfers reached")

	// ErrInvalidTransition - the requested lifecycle operation is not legal
	// from the task's current status.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrCancelled - the task was cancelled. Cancellation is cooperative and
	// is not a failure: it suppresses error propagation from in-flight
	// streams.
	ErrCancelled = errors.New("cancelled")

	// ErrAborted - the abort handle fired while a stream was mid-read.
	ErrAborted = errors.New("transfer aborted")

	// ErrStreamEnded - a ranged read ended before the full content length was
	// delivered. Transient; the worker retry loop re-runs the file.
	ErrStreamEnded = errors.New("stream ended prematurely")
)

// fatalError marks an error that must not be retried: validation failures,
// permission problems, local filesystem errors like a full disk.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps an error so the worker retry loop promotes it to terminal
// immediately instead of burning the retry budget.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Fatalf is Fatal over fmt.Errorf.
func Fatalf(format string, args ...interface{}) error {
	return Fatal(fmt.Errorf(format, args...))
}

// IsFatal reports whether the error (or anything it wraps) was marked fatal
// or is inherently non-retryable.
func IsFatal(err error) bool {
	var fe *fatalError
	if errors.As(err, &fe) {
		return true
	}
	// Local filesystem conditions never heal on retry.
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) ||
		errors.Is(err, os.ErrPermission) {
		return true
	}
	return false
}

// IsCancellation reports whether the error is a cooperative-cancellation
// artifact rather than a real failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled)
}

// isRetryable classifies an error for the worker retry loop. Anything not
// fatal and not a cancellation is worth another attempt: transient network
// faults, 5xx responses, premature stream ends, refused tickets.
func isRetryable(err error) bool {
	if err == nil || IsFatal(err) || IsCancellation(err) {
		return false
	}
	return true
}

// isNetworkError recognizes transport-level faults for log classification.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "connection reset") || strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "unexpected EOF")
}
