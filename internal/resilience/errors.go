package resilience

import (
	"errors"
	"fmt"
	"time"
)

// HTTPStatuser is implemented by errors that carry an HTTP status code.
// Status 0 means the request never reached the server (network-layer
// failure). The default retryability predicate keys off this interface so
// callers never have to match on message strings.
type HTTPStatuser interface {
	HTTPStatus() int
}

// AbortError marks a caller-initiated cancellation. It is never retried and
// never mutates circuit state; UI layers typically ignore it silently.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return "operation aborted"
	}
	return fmt.Sprintf("operation aborted: %v", e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// CircuitOpenError is the synthetic rejection produced while a circuit is
// Open, or the marker wrapped around a failed half-open probe (Reopened).
type CircuitOpenError struct {
	Operation string
	Until     time.Time
	Reopened  bool
	Err       error
}

func (e *CircuitOpenError) Error() string {
	if e.Reopened {
		return fmt.Sprintf("circuit %q reopened until %s: %v", e.Operation, e.Until.Format(time.RFC3339), e.Err)
	}
	return fmt.Sprintf("circuit %q open until %s", e.Operation, e.Until.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return e.Err }

// IsAbort reports whether err is (or wraps) a caller cancellation.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// IsCircuitOpen reports whether err is (or wraps) a circuit rejection.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// DefaultRetryable classifies network-layer failures (status 0) and
// transient server errors (502, 503, 504) as retryable. Aborts and circuit
// rejections are never retryable. Errors with no status at all are treated
// as network-layer and retried.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAbort(err) || IsCircuitOpen(err) {
		return false
	}
	var hs HTTPStatuser
	if errors.As(err, &hs) {
		switch hs.HTTPStatus() {
		case 0, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	return true
}
