package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// FaultToleranceOptions selects and configures the layers an Executor
// composes. For every enabled flag the matching options must be present;
// construction fails otherwise.
type FaultToleranceOptions struct {
	// Name identifies the protected service in unified notifications.
	Name string

	// UseCircuitBreaker enables the breaker layer; requires CircuitBreaker.
	UseCircuitBreaker bool
	// UseRetry enables the retry layer; requires Retry.
	UseRetry bool
	// UseCompensation enables ExecuteSaga.
	UseCompensation bool

	CircuitBreaker *CircuitBreakerOptions
	Retry          *RetryOptions

	// Timeout, Bulkhead, and RateLimit are optional supplementary layers;
	// presence enables them.
	Timeout   *TimeoutOptions
	Bulkhead  *BulkheadOptions
	RateLimit *RateLimitOptions

	// Notifier receives both raw layer events and unified TriggerEvent
	// notifications. When nil the executor creates its own, reachable via
	// Executor.Notifier.
	Notifier *Notifier

	// Logger receives internal diagnostics. Optional.
	Logger *slog.Logger
}

// Validate reports the first configuration error.
func (o FaultToleranceOptions) Validate() error {
	if o.Name == "" {
		return errors.New("resilience: executor name is required")
	}
	if o.UseCircuitBreaker && o.CircuitBreaker == nil {
		return errors.New("resilience: circuit breaker enabled but no options provided")
	}
	if o.UseRetry && o.Retry == nil {
		return errors.New("resilience: retry enabled but no options provided")
	}
	return nil
}

// Executor composes the configured resilience layers around caller-supplied
// operations. It owns its breaker, retry, timeout, bulkhead, and rate
// limiter instances;
// coordinators are constructed per saga and never retained.
type Executor struct {
	name            string
	breaker         *CircuitBreaker
	retry           *Retry
	timeout         *Timeout
	bulkhead        *Bulkhead
	limiter         *RateLimiter
	notifier        *Notifier
	logger          *slog.Logger
	useCompensation bool
}

// NewExecutor creates an executor. Layer options are validated through their
// own constructors, so an invalid sub-configuration fails here.
func NewExecutor(opts FaultToleranceOptions) (*Executor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewNotifier(logger)
	}

	e := &Executor{
		name:            opts.Name,
		notifier:        notifier,
		logger:          logger,
		useCompensation: opts.UseCompensation,
	}

	if opts.UseCircuitBreaker {
		cbOpts := *opts.CircuitBreaker
		cbOpts.Notifier = notifier
		cb, err := NewCircuitBreaker(cbOpts)
		if err != nil {
			return nil, fmt.Errorf("resilience: executor %q: %w", opts.Name, err)
		}
		e.breaker = cb
	}

	if opts.UseRetry {
		rOpts := *opts.Retry
		rOpts.Notifier = notifier
		r, err := NewRetry(rOpts)
		if err != nil {
			return nil, fmt.Errorf("resilience: executor %q: %w", opts.Name, err)
		}
		e.retry = r
	}

	if opts.Timeout != nil {
		tOpts := *opts.Timeout
		tOpts.Notifier = notifier
		t, err := NewTimeout(tOpts)
		if err != nil {
			return nil, fmt.Errorf("resilience: executor %q: %w", opts.Name, err)
		}
		e.timeout = t
	}

	if opts.Bulkhead != nil {
		b, err := NewBulkhead(*opts.Bulkhead)
		if err != nil {
			return nil, fmt.Errorf("resilience: executor %q: %w", opts.Name, err)
		}
		e.bulkhead = b
	}

	if opts.RateLimit != nil {
		rl, err := NewRateLimiter(*opts.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("resilience: executor %q: %w", opts.Name, err)
		}
		e.limiter = rl
	}

	// Republish every layer event as a unified trigger notification.
	notifier.Subscribe(ListenerFunc(e.republish))

	return e, nil
}

// Name returns the executor name.
func (e *Executor) Name() string { return e.name }

// Notifier returns the notifier carrying this executor's events.
func (e *Executor) Notifier() *Notifier { return e.notifier }

// CircuitBreaker returns the owned breaker, nil when disabled.
func (e *Executor) CircuitBreaker() *CircuitBreaker { return e.breaker }

// Execute runs op through all enabled layers.
//
// Composition is rateLimit(bulkhead(retry(circuitBreaker(timeout(op))))):
// the breaker wraps each individual attempt, so every failed retry counts
// toward the failure threshold and the breaker can trip mid-retry-loop. Once
// tripped, the next attempt is rejected with CircuitOpenError without
// invoking the operation, which ends the retry loop. The rate limiter and
// bulkhead sit outside the retry loop and admit whole calls, not attempts.
func (e *Executor) Execute(ctx context.Context, op Operation) error {
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.breaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.breaker.Execute(ctx, inner)
		}
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	if e.limiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.limiter.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}

// ExecuteSaga runs the given steps as one saga through a coordinator built
// for this call. Saga steps manage their own execution semantics and bypass
// the breaker and retry layers.
func (e *Executor) ExecuteSaga(ctx context.Context, steps ...*Step) (*SagaResult, error) {
	if !e.useCompensation {
		return nil, ErrCompensationDisabled
	}

	coord := NewCoordinator(e.name,
		WithCoordinatorNotifier(e.notifier),
		WithCoordinatorLogger(e.logger),
	)
	coord.Register(steps...)
	return coord.ExecuteWithCompensation(ctx)
}

// republish translates raw layer events into the unified "fault tolerance
// triggered" notification. Its own output is skipped to avoid feedback.
func (e *Executor) republish(ctx context.Context, ev Event) {
	if ev.EventKind() == EventExecutorTriggered {
		return
	}

	trigger := TriggerEvent{
		Service: e.name,
		Trigger: ev.EventKind(),
		At:      time.Now(),
	}

	switch v := ev.(type) {
	case StateChangeEvent:
		trigger.Details = fmt.Sprintf("circuit %s: %s -> %s", v.Circuit, v.From, v.To)
		trigger.Err = v.Cause
	case RetryScheduledEvent:
		trigger.Details = fmt.Sprintf("attempt %d failed, retrying in %v", v.Attempt, v.Delay)
		trigger.Err = v.Err
	case RetrySucceededEvent:
		trigger.Details = fmt.Sprintf("recovered on attempt %d after %v", v.Attempts, v.Elapsed)
	case RetriesExhaustedEvent:
		trigger.Details = fmt.Sprintf("gave up after %d attempts", v.Attempts)
		trigger.Err = v.Err
	case TimeoutEvent:
		trigger.Details = fmt.Sprintf("operation cut off after %v", v.Elapsed)
	case CompensationStartedEvent:
		trigger.Details = fmt.Sprintf("compensating %d operations", v.Count)
	case OperationCompensatedEvent:
		trigger.Details = fmt.Sprintf("compensated %q ok=%t", v.Operation, v.OK)
		trigger.Err = v.Err
	case CompensationCompletedEvent:
		trigger.Details = fmt.Sprintf("compensation finished: %d ok, %d failed",
			v.Result.CompensatedCount, v.Result.FailedCompensationCount)
	default:
		trigger.Details = string(ev.EventKind())
	}

	e.notifier.Publish(ctx, trigger)
}

// Call runs a value-returning operation through the executor's layers.
func Call[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
