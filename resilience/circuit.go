package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Operation is the contract for work wrapped by the resilience primitives:
// a zero-argument callable observing cancellation through its context.
type Operation func(ctx context.Context) error

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is rejecting all calls.
	StateOpen
	// StateHalfOpen means the circuit is probing for recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerOptions configures a circuit breaker. All fields except
// MaxProbes, IsFailure, and Notifier are required.
type CircuitBreakerOptions struct {
	// Name identifies the downstream dependency this breaker guards.
	Name string

	// FailureThreshold is the number of consecutive failures while closed
	// that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of successful probes while half-open
	// that closes the circuit.
	SuccessThreshold int

	// Timeout is how long the circuit stays open before admitting probes.
	Timeout time.Duration

	// MaxProbes bounds concurrent half-open probes. Zero preserves the
	// historical behavior: an unbounded number of concurrent calls may all
	// be admitted as probes, and a burst of in-flight successes can close
	// the circuit before any of their failures surface.
	MaxProbes int

	// IsFailure decides whether an error counts against the threshold.
	// Default: every non-nil error is a failure.
	IsFailure func(err error) bool

	// Notifier receives StateChangeEvent notifications. Optional.
	Notifier *Notifier
}

// Validate reports the first configuration error.
func (o CircuitBreakerOptions) Validate() error {
	if o.Name == "" {
		return errors.New("resilience: circuit breaker name is required")
	}
	if o.FailureThreshold <= 0 {
		return fmt.Errorf("resilience: failure threshold must be positive, got %d", o.FailureThreshold)
	}
	if o.SuccessThreshold <= 0 {
		return fmt.Errorf("resilience: success threshold must be positive, got %d", o.SuccessThreshold)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("resilience: open timeout must be positive, got %v", o.Timeout)
	}
	if o.MaxProbes < 0 {
		return fmt.Errorf("resilience: max probes must not be negative, got %d", o.MaxProbes)
	}
	return nil
}

// CircuitBreaker guards a single logical downstream dependency, failing fast
// while open. One instance is intended to be shared by every caller of the
// same dependency; tripping it affects all of them.
//
// State reads and transitions are serialized by one mutex per instance. The
// lock covers only the state check and update, never the wrapped operation,
// so operations run concurrently while the circuit is closed.
type CircuitBreaker struct {
	opts      CircuitBreakerOptions
	isFailure func(err error) bool

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	probes      int
}

// NewCircuitBreaker creates a circuit breaker in the closed state. Invalid
// options fail here, never at call time.
func NewCircuitBreaker(opts CircuitBreakerOptions) (*CircuitBreaker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	isFailure := opts.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		opts:      opts,
		isFailure: isFailure,
		state:     StateClosed,
	}, nil
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.opts.Name
}

// Execute runs op through the breaker. While open, the call is rejected
// with a CircuitOpenError and op is never invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) error {
	probe, err := cb.beforeCall(ctx)
	if err != nil {
		return err
	}

	err = op(ctx)
	cb.afterCall(ctx, probe, err)
	return err
}

// State returns the current circuit state, applying the open-to-half-open
// transition if the timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	state, changed := cb.currentStateLocked()
	cb.mu.Unlock()

	cb.notify(context.Background(), changed)
	return state
}

// Trip forces the circuit open immediately.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	var changed []StateChangeEvent
	if cb.state != StateOpen {
		changed = append(changed, cb.transitionLocked(StateOpen, nil))
	}
	cb.lastFailure = time.Now()
	cb.mu.Unlock()

	cb.notify(context.Background(), changed)
}

// Reset forces the circuit closed with zero counters, regardless of prior
// state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changed []StateChangeEvent
	if cb.state != StateClosed {
		changed = append(changed, cb.transitionLocked(StateClosed, nil))
	}
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	cb.lastFailure = time.Time{}
	cb.mu.Unlock()

	cb.notify(context.Background(), changed)
}

// beforeCall admits or rejects a call, reporting whether it was admitted as
// a half-open probe.
func (cb *CircuitBreaker) beforeCall(ctx context.Context) (probe bool, err error) {
	cb.mu.Lock()
	state, changed := cb.currentStateLocked()

	switch state {
	case StateOpen:
		err = &CircuitOpenError{Circuit: cb.opts.Name}
	case StateHalfOpen:
		if cb.opts.MaxProbes > 0 && cb.probes >= cb.opts.MaxProbes {
			err = &CircuitOpenError{Circuit: cb.opts.Name}
		} else {
			cb.probes++
			probe = true
		}
	}
	cb.mu.Unlock()

	cb.notify(ctx, changed)
	return probe, err
}

// afterCall records the outcome of an admitted call.
func (cb *CircuitBreaker) afterCall(ctx context.Context, probe bool, err error) {
	failed := cb.isFailure(err)

	cb.mu.Lock()
	if probe && cb.probes > 0 {
		cb.probes--
	}

	var changed []StateChangeEvent
	switch cb.state {
	case StateClosed:
		if failed {
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.opts.FailureThreshold {
				changed = append(changed, cb.transitionLocked(StateOpen, err))
			}
		} else {
			cb.failures = 0
		}

	case StateHalfOpen:
		if failed {
			// A single failed probe undoes all partial recovery.
			cb.lastFailure = time.Now()
			cb.successes = 0
			changed = append(changed, cb.transitionLocked(StateOpen, err))
		} else {
			cb.successes++
			if cb.successes >= cb.opts.SuccessThreshold {
				cb.failures = 0
				cb.successes = 0
				cb.lastFailure = time.Time{}
				changed = append(changed, cb.transitionLocked(StateClosed, nil))
			}
		}
	}
	cb.mu.Unlock()

	cb.notify(ctx, changed)
}

// currentStateLocked applies the lazy open-to-half-open transition once the
// open timeout has elapsed.
func (cb *CircuitBreaker) currentStateLocked() (State, []StateChangeEvent) {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.opts.Timeout {
		ev := cb.transitionLocked(StateHalfOpen, nil)
		cb.successes = 0
		cb.probes = 0
		return cb.state, []StateChangeEvent{ev}
	}
	return cb.state, nil
}

func (cb *CircuitBreaker) transitionLocked(to State, cause error) StateChangeEvent {
	from := cb.state
	cb.state = to
	return StateChangeEvent{
		Circuit: cb.opts.Name,
		From:    from,
		To:      to,
		Cause:   cause,
		At:      time.Now(),
	}
}

// notify publishes transitions after the mutex is released so listeners can
// safely call back into the breaker.
func (cb *CircuitBreaker) notify(ctx context.Context, events []StateChangeEvent) {
	for _, ev := range events {
		publish(ctx, cb.opts.Notifier, ev)
	}
}

// CircuitSnapshot is a point-in-time view of breaker counters.
type CircuitSnapshot struct {
	Name        string
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// Snapshot returns the breaker's current counters.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	state, changed := cb.currentStateLocked()
	snap := CircuitSnapshot{
		Name:        cb.opts.Name,
		State:       state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
	cb.mu.Unlock()

	cb.notify(context.Background(), changed)
	return snap
}
