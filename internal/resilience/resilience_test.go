package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type statusErr struct{ status int }

func (e statusErr) Error() string   { return "status error" }
func (e statusErr) HTTPStatus() int { return e.status }

func TestDoRetriesUntilBudgetExhausted(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	_, err := Do(context.Background(), reg, Options{
		Operation:        "op",
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		FailureThreshold: 10,
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr{status: 503}
	})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	got, err := Do(context.Background(), reg, Options{
		Operation: "op",
		BaseDelay: time.Millisecond,
	}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", statusErr{status: 502}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
	if reg.CircuitState("op") != Closed {
		t.Fatalf("success must keep the circuit closed")
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	_, err := Do(context.Background(), reg, Options{
		Operation: "op",
		BaseDelay: time.Millisecond,
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr{status: 404}
	})
	var se statusErr
	if !errors.As(err, &se) || se.status != 404 {
		t.Fatalf("expected the 404 back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", calls)
	}
}

func TestDoAbortSkipsRetryAndCircuit(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	_, err := Do(context.Background(), reg, Options{
		Operation:   "op",
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, &AbortError{Err: errors.New("user hit cancel")}
	})
	if !IsAbort(err) {
		t.Fatalf("expected abort, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("abort must not be retried, got %d calls", calls)
	}
	if reg.CircuitState("op") != Closed {
		t.Fatalf("abort must not touch circuit state")
	}
}

func TestDoCanceledContextBeforeFirstAttempt(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, reg, Options{Operation: "op"}, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !IsAbort(err) {
		t.Fatalf("expected abort, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("fn must not run under a canceled context")
	}
}

func TestCircuitOpensAndRejects(t *testing.T) {
	reg := NewRegistry()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := base
	reg.Now = func() time.Time { return now }

	opts := Options{
		Operation:   "op",
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		Cooldown:    30 * time.Second,
	}
	_, err := Do(context.Background(), reg, opts, func(ctx context.Context) (int, error) {
		return 0, statusErr{status: 503}
	})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if reg.CircuitState("op") != Open {
		t.Fatalf("threshold 1 must open the circuit after one exhausted run")
	}

	// Rejected without invoking fn while the cooldown holds.
	calls := 0
	_, err = Do(context.Background(), reg, opts, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit rejection, got %v", err)
	}
	var ce *CircuitOpenError
	if !errors.As(err, &ce) || ce.Operation != "op" || !ce.Until.Equal(base.Add(30*time.Second)) {
		t.Fatalf("rejection must carry operation and deadline: %+v", ce)
	}
	if calls != 0 {
		t.Fatalf("fn must not run while the circuit is open")
	}
}

func TestCircuitHalfOpenProbe(t *testing.T) {
	reg := NewRegistry()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reg.Now = func() time.Time { return now }

	opts := Options{
		Operation:   "op",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Cooldown:    10 * time.Second,
	}
	_, _ = Do(context.Background(), reg, Options{Operation: "op", MaxAttempts: 1, Cooldown: 10 * time.Second}, func(ctx context.Context) (int, error) {
		return 0, statusErr{status: 503}
	})
	if reg.CircuitState("op") != Open {
		t.Fatalf("setup: circuit should be open")
	}

	// Past the cooldown the next run is a single probe, despite MaxAttempts 3.
	now = now.Add(11 * time.Second)
	calls := 0
	_, err := Do(context.Background(), reg, opts, func(ctx context.Context) (int, error) {
		calls++
		return 0, statusErr{status: 503}
	})
	if calls != 1 {
		t.Fatalf("half-open probe gets exactly one attempt, got %d", calls)
	}
	var ce *CircuitOpenError
	if !errors.As(err, &ce) || !ce.Reopened {
		t.Fatalf("failed probe must report a reopened circuit, got %v", err)
	}
	if reg.CircuitState("op") != Open {
		t.Fatalf("failed probe must reopen the circuit")
	}

	// A successful probe closes it again.
	now = now.Add(11 * time.Second)
	got, err := Do(context.Background(), reg, opts, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("probe success: got %d, %v", got, err)
	}
	if reg.CircuitState("op") != Closed {
		t.Fatalf("successful probe must close the circuit")
	}
}

func TestCircuitsAreIsolatedByOperation(t *testing.T) {
	reg := NewRegistry()
	_, _ = Do(context.Background(), reg, Options{Operation: "a", MaxAttempts: 1}, func(ctx context.Context) (int, error) {
		return 0, statusErr{status: 503}
	})
	if reg.CircuitState("a") != Open {
		t.Fatalf("circuit a should be open")
	}
	got, err := Do(context.Background(), reg, Options{Operation: "b"}, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("circuit b must be unaffected: %v", err)
	}
}

func TestFailureThresholdCountsExhaustedRuns(t *testing.T) {
	reg := NewRegistry()
	opts := Options{
		Operation:        "op",
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
		FailureThreshold: 3,
	}
	for i := 0; i < 2; i++ {
		_, _ = Do(context.Background(), reg, opts, func(ctx context.Context) (int, error) {
			return 0, statusErr{status: 503}
		})
		if reg.CircuitState("op") != Closed {
			t.Fatalf("run %d must stay below the threshold", i+1)
		}
	}
	_, _ = Do(context.Background(), reg, opts, func(ctx context.Context) (int, error) {
		return 0, statusErr{status: 503}
	})
	if reg.CircuitState("op") != Open {
		t.Fatalf("third exhausted run must open the circuit")
	}
}

func TestOnRetryObservesBackoff(t *testing.T) {
	reg := NewRegistry()
	var attempts []int
	_, _ = Do(context.Background(), reg, Options{
		Operation:        "op",
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		FailureThreshold: 10,
		OnRetry: func(attempt int, err error) {
			attempts = append(attempts, attempt)
		},
	}, func(ctx context.Context) (int, error) {
		return 0, statusErr{status: 502}
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("OnRetry must fire between attempts: %v", attempts)
	}
}

func TestDefaultRetryable(t *testing.T) {
	if DefaultRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
	if !DefaultRetryable(statusErr{status: 0}) {
		t.Fatalf("network-layer failure is retryable")
	}
	for _, status := range []int{502, 503, 504} {
		if !DefaultRetryable(statusErr{status: status}) {
			t.Fatalf("%d is retryable", status)
		}
	}
	for _, status := range []int{400, 401, 404, 409, 422, 500} {
		if DefaultRetryable(statusErr{status: status}) {
			t.Fatalf("%d is not retryable", status)
		}
	}
	if !DefaultRetryable(errors.New("dial tcp: refused")) {
		t.Fatalf("errors with no status are treated as network-layer")
	}
	if DefaultRetryable(&AbortError{}) {
		t.Fatalf("aborts are never retryable")
	}
	if DefaultRetryable(&CircuitOpenError{Operation: "op"}) {
		t.Fatalf("circuit rejections are never retryable")
	}
}
