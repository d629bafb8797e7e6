// Package resilience provides composable fault-tolerance primitives for
// wrapping arbitrary operations against unreliable downstream dependencies.
//
// The package does not decide what operation to run, only how reliably to
// run it: callers supply a zero-argument operation and the primitives here
// manage failure detection, fast-fail, bounded retries, and saga-style
// rollback around it.
//
// # Patterns
//
//   - Circuit Breaker: per-dependency state machine (Closed/Open/HalfOpen)
//     that fails fast with CircuitOpenError once a failure threshold is
//     reached, then probes for recovery after a timeout.
//
//   - Retry: bounded retry attempts with pluggable should-retry predicates
//     and constant, linear, or exponential backoff with optional jitter.
//     The original error is always re-raised when attempts are exhausted.
//
//   - Compensation Coordinator: registers an ordered sequence of
//     compensatable steps and, on failure, rolls completed steps back in
//     reverse registration order, continuing past individual rollback
//     failures.
//
//   - Timeout, Bulkhead, and RateLimiter: optional deadline, concurrency-cap,
//     and token-bucket admission layers.
//
//   - Executor: composes the enabled layers around a single operation as
//     rateLimit(bulkhead(retry(circuitBreaker(timeout(op))))), so every
//     failed retry attempt counts toward the breaker's failure threshold
//     individually.
//
// # Configuration
//
// All options structs are validated at construction; constructors return an
// error for invalid configuration rather than deferring the failure to call
// time.
//
// # Usage
//
//	cb, err := resilience.NewCircuitBreaker(resilience.CircuitBreakerOptions{
//	    Name:             "equipment-db",
//	    FailureThreshold: 5,
//	    SuccessThreshold: 2,
//	    Timeout:          30 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//
//	retry, err := resilience.NewRetry(resilience.RetryOptions{
//	    Name:        "equipment-db",
//	    MaxAttempts: 3,
//	    BaseDelay:   100 * time.Millisecond,
//	    MaxDelay:    5 * time.Second,
//	    Multiplier:  2.0,
//	    UseJitter:   true,
//	})
//	if err != nil {
//	    return err
//	}
//
//	err = cb.Execute(ctx, func(ctx context.Context) error {
//	    return retry.Execute(ctx, func(ctx context.Context) error {
//	        return callDownstream(ctx)
//	    })
//	})
//
// The Executor builds the same composition from a single validated options
// struct, and additionally exposes saga execution through ExecuteSaga.
//
// # Notifications
//
// State changes, retry attempts, recoveries, exhaustion, and compensation
// progress are
// published synchronously through a Notifier. Listener panics are recovered
// and logged; a misbehaving subscriber never affects the wrapped operation's
// control flow.
package resilience
