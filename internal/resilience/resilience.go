// Package resilience wraps outbound calls with bounded retries, exponential
// backoff, and a per-operation-class circuit breaker. Circuits are keyed by
// a caller-chosen operation name so independent call classes never share
// failure state.
package resilience

import (
	"context"
	"sync"
	"time"
)

// State is the circuit breaker state for one operation class.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const (
	DefaultMaxAttempts      = 4
	DefaultBaseDelay        = time.Second
	DefaultCooldown         = 30 * time.Second
	DefaultFailureThreshold = 1
	DefaultOperation        = "default"
)

type circuit struct {
	state     State
	failures  int
	openUntil time.Time
}

// Registry holds circuit state per operation class. Circuits are created
// lazily on first use and live as long as the registry. Tests should build
// their own registry rather than share a process-wide one.
type Registry struct {
	// Now is the clock; override in tests to step through cooldowns.
	Now func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

func NewRegistry() *Registry {
	return &Registry{
		Now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// CircuitState reports the current state for an operation class.
func (r *Registry) CircuitState(operation string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.circuits[operation]; ok {
		return c.state
	}
	return Closed
}

func (r *Registry) circuit(operation string) *circuit {
	c, ok := r.circuits[operation]
	if !ok {
		c = &circuit{}
		r.circuits[operation] = c
	}
	return c
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// begin resolves the attempt budget for a call, transitioning an Open
// circuit to HalfOpen once its cooldown has elapsed. Rejections while Open
// carry the circuit name and deadline.
func (r *Registry) begin(operation string, maxAttempts int) (budget int, halfOpen bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.circuit(operation)
	switch c.state {
	case Open:
		if r.now().Before(c.openUntil) {
			return 0, false, &CircuitOpenError{Operation: operation, Until: c.openUntil}
		}
		c.state = HalfOpen
		c.failures = 0
		return 1, true, nil
	case HalfOpen:
		return 1, true, nil
	default:
		return maxAttempts, false, nil
	}
}

func (r *Registry) success(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.circuit(operation)
	c.state = Closed
	c.failures = 0
}

// exhausted records a fully failed run. A failed half-open probe reopens the
// circuit immediately; a failed Closed run bumps the counter and opens the
// circuit once the threshold is reached. The counter/state update is a
// single critical section so interleaved calls cannot lose increments.
func (r *Registry) exhausted(operation string, halfOpen bool, cooldown time.Duration, threshold int) (reopened bool, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.circuit(operation)
	now := r.now()
	if halfOpen || c.state == HalfOpen {
		c.state = Open
		c.openUntil = now.Add(cooldown)
		c.failures = 0
		return true, c.openUntil
	}
	c.failures++
	if c.failures >= threshold {
		c.state = Open
		c.openUntil = now.Add(cooldown)
	}
	return false, c.openUntil
}

// Options configure one wrapped call. The zero value is usable; every field
// falls back to the package default.
type Options struct {
	// Operation names the circuit this call shares. Distinct names never
	// share breaker state.
	Operation string
	// MaxAttempts bounds attempts for a Closed-circuit run (half-open
	// probes always get exactly one).
	MaxAttempts int
	// BaseDelay is the first inter-attempt delay; it doubles per attempt.
	BaseDelay time.Duration
	// Retryable classifies failures; nil means DefaultRetryable.
	Retryable func(error) bool
	// OnRetry is invoked before each backoff wait with the attempt number
	// that just failed and its error.
	OnRetry func(attempt int, err error)
	// FailureThreshold is the number of fully exhausted failing runs that
	// open the circuit. The default of 1 is deliberately aggressive and
	// matches the behavior callers depend on; raise it per call site if a
	// burst of transient errors must not disable the operation class.
	FailureThreshold int
	// Cooldown is how long an Open circuit rejects calls before probing.
	Cooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.Operation == "" {
		o.Operation = DefaultOperation
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Retryable == nil {
		o.Retryable = DefaultRetryable
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	return o
}

// Do invokes fn with retries, backoff, and circuit breaking per opts.
// Cancellation is cooperative: the context is checked before each attempt,
// after each failure, and after each backoff wait. An in-flight fn that does
// not observe the context runs to completion before the wrapper notices.
// Aborted calls never mutate circuit state.
func Do[T any](ctx context.Context, reg *Registry, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	opts = opts.withDefaults()
	budget, halfOpen, err := reg.begin(opts.Operation, opts.MaxAttempts)
	if err != nil {
		return zero, err
	}
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return zero, &AbortError{Err: cerr}
		}
		result, err := fn(ctx)
		if err == nil {
			reg.success(opts.Operation)
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, &AbortError{Err: err}
		}
		if IsAbort(err) {
			return zero, err
		}
		lastErr = err
		if opts.Retryable(err) && attempt < budget {
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, err)
			}
			delay := opts.BaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return zero, &AbortError{Err: ctx.Err()}
			case <-time.After(delay):
			}
			continue
		}
		// Non-retryable, or the budget is spent. Only a failure on the
		// final allowed attempt counts against the circuit.
		if attempt == budget {
			if reopened, until := reg.exhausted(opts.Operation, halfOpen, opts.Cooldown, opts.FailureThreshold); reopened {
				return zero, &CircuitOpenError{Operation: opts.Operation, Until: until, Reopened: true, Err: err}
			}
		}
		return zero, err
	}
	return zero, lastErr
}
