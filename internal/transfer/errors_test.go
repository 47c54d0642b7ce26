package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
)

func TestFatalMarking(t *testing.T) {
	base := errors.New("bad input")
	if !IsFatal(Fatal(base)) {
		t.Error("Fatal-wrapped error should be fatal")
	}
	if !errors.Is(Fatal(base), base) {
		t.Error("Fatal should preserve the wrapped error for errors.Is")
	}
	if Fatal(nil) != nil {
		t.Error("Fatal(nil) should stay nil")
	}
	if !IsFatal(Fatalf("invalid %s", "thing")) {
		t.Error("Fatalf result should be fatal")
	}
	// A fatal error wrapped further up the chain stays fatal.
	if !IsFatal(fmt.Errorf("context: %w", Fatal(base))) {
		t.Error("wrapping should not strip the fatal mark")
	}
}

func TestInherentlyFatalErrors(t *testing.T) {
	for _, err := range []error{syscall.ENOSPC, syscall.EDQUOT, os.ErrPermission} {
		if !IsFatal(fmt.Errorf("write: %w", err)) {
			t.Errorf("%v should be fatal without explicit marking", err)
		}
	}
	if IsFatal(errors.New("connection reset by peer")) {
		t.Error("transient network error should not be fatal")
	}
}

func TestIsCancellation(t *testing.T) {
	for _, err := range []error{ErrCancelled, ErrAborted, context.Canceled} {
		if !IsCancellation(fmt.Errorf("op: %w", err)) {
			t.Errorf("%v should count as cancellation", err)
		}
	}
	if IsCancellation(errors.New("timeout")) {
		t.Error("plain error should not count as cancellation")
	}
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if isRetryable(Fatal(errors.New("nope"))) {
		t.Error("fatal errors are not retryable")
	}
	if isRetryable(ErrAborted) {
		t.Error("cancellation artifacts are not retryable")
	}
	if !isRetryable(ErrStreamEnded) {
		t.Error("a premature stream end is worth another attempt")
	}
	if !isRetryable(errors.New("HTTP 502")) {
		t.Error("generic transient errors are retryable")
	}
}

func TestIsNetworkError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{syscall.ECONNRESET, true},
		{syscall.EPIPE, true},
		{errors.New("read tcp: connection reset"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("permission denied"), false},
	}
	for _, tc := range cases {
		if got := isNetworkError(tc.err); got != tc.want {
			t.Errorf("isNetworkError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSmoothSpeed(t *testing.T) {
	if got := smoothSpeed(nil); got != 0 {
		t.Errorf("smoothSpeed(nil) = %d, want 0", got)
	}
	if got := smoothSpeed([]int64{1000}); got != 1000 {
		t.Errorf("smoothSpeed single = %d, want 1000", got)
	}
	// alpha 0.3: 0.3*2000 + 0.7*1000 = 1300
	if got := smoothSpeed([]int64{1000, 2000}); got != 1300 {
		t.Errorf("smoothSpeed = %d, want 1300", got)
	}
}
