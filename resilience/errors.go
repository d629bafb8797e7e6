package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when a circuit breaker rejects a call.
	// Rejections carry the breaker name via CircuitOpenError and match
	// this sentinel through errors.Is.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrRateLimited is returned when the rate limiter has no token for a
	// call and none frees up within the configured wait.
	ErrRateLimited = errors.New("resilience: rate limit exceeded")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrCompensationDisabled is returned by Executor.ExecuteSaga when the
	// executor was built without compensation support.
	ErrCompensationDisabled = errors.New("resilience: compensation not enabled")
)

// CircuitOpenError reports a call rejected without being attempted because
// the named circuit breaker is open. It is always distinguishable from a
// failure of the wrapped operation itself.
type CircuitOpenError struct {
	// Circuit is the name of the breaker that rejected the call.
	Circuit string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit breaker %q is open", e.Circuit)
}

// Is reports ErrCircuitOpen so callers can match rejections without
// unwrapping the concrete type.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}
