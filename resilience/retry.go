package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays grow between retry attempts.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay each attempt, with optional
	// jitter.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases the delay linearly with the attempt number.
	BackoffLinear
	// BackoffConstant uses the base delay for every attempt.
	BackoffConstant
)

// String returns the string representation of the strategy.
func (s BackoffStrategy) String() string {
	switch s {
	case BackoffExponential:
		return "exponential"
	case BackoffLinear:
		return "linear"
	case BackoffConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// RetryOptions configures a retry policy.
type RetryOptions struct {
	// Name identifies the policy in notifications.
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor.
	Multiplier float64

	// Strategy selects the backoff curve. Default: BackoffExponential.
	Strategy BackoffStrategy

	// UseJitter perturbs exponential delays by up to ±5% to avoid
	// synchronized retry storms across callers.
	UseJitter bool

	// Classifier decides retryability when no per-call predicate is given.
	// Default: DefaultClassifier().
	Classifier *Classifier

	// Notifier receives retry events. Optional.
	Notifier *Notifier
}

// Validate reports the first configuration error.
func (o RetryOptions) Validate() error {
	if o.MaxAttempts <= 0 {
		return fmt.Errorf("resilience: max attempts must be positive, got %d", o.MaxAttempts)
	}
	if o.BaseDelay < 0 {
		return fmt.Errorf("resilience: base delay must not be negative, got %v", o.BaseDelay)
	}
	if o.MaxDelay < o.BaseDelay {
		return fmt.Errorf("resilience: max delay %v must be at least base delay %v", o.MaxDelay, o.BaseDelay)
	}
	if o.Multiplier <= 0 {
		return fmt.Errorf("resilience: backoff multiplier must be positive, got %g", o.Multiplier)
	}
	switch o.Strategy {
	case BackoffExponential, BackoffLinear, BackoffConstant:
	default:
		return fmt.Errorf("resilience: unknown backoff strategy %d", int(o.Strategy))
	}
	return nil
}

// Attempt is an immutable snapshot taken before each try. It is owned by the
// retry loop that created it and never mutated after construction.
type Attempt struct {
	// Number is the 1-based attempt counter.
	Number int
	// Elapsed is the total time since the first attempt started.
	Elapsed time.Duration
	// LastErr is the failure from the previous attempt, nil on the first.
	LastErr error
}

// ShouldRetry decides whether a failed attempt is worth repeating.
type ShouldRetry func(err error, attempt Attempt) bool

// Retry wraps operations with bounded retry attempts and backoff. When
// attempts are exhausted the original error is returned unwrapped; callers
// always see the real failure.
type Retry struct {
	opts       RetryOptions
	classifier *Classifier
}

// NewRetry creates a retry policy. Invalid options fail here, never at call
// time.
func NewRetry(opts RetryOptions) (*Retry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = DefaultClassifier()
	}

	return &Retry{opts: opts, classifier: classifier}, nil
}

// Name returns the policy name.
func (r *Retry) Name() string {
	return r.opts.Name
}

// Execute runs op, retrying transient failures per the default classifier.
func (r *Retry) Execute(ctx context.Context, op Operation) error {
	return r.ExecuteIf(ctx, op, nil)
}

// ExecuteIf runs op, consulting shouldRetry after each failure. A nil
// predicate falls back to the classifier: only transient errors retry.
func (r *Retry) ExecuteIf(ctx context.Context, op Operation, shouldRetry ShouldRetry) error {
	if shouldRetry == nil {
		shouldRetry = func(err error, _ Attempt) bool {
			return r.classifier.Classify(err).Retryable()
		}
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		snap := Attempt{
			Number:  attempt,
			Elapsed: time.Since(start),
			LastErr: lastErr,
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				publish(ctx, r.opts.Notifier, RetrySucceededEvent{
					Policy:   r.opts.Name,
					Attempts: attempt,
					Elapsed:  time.Since(start),
					At:       time.Now(),
				})
			}
			return nil
		}
		lastErr = err

		if attempt == r.opts.MaxAttempts || !shouldRetry(err, snap) {
			publish(ctx, r.opts.Notifier, RetriesExhaustedEvent{
				Policy:   r.opts.Name,
				Attempts: attempt,
				Err:      err,
				At:       time.Now(),
			})
			return err
		}

		delay := Delay(r.opts, attempt)
		publish(ctx, r.opts.Notifier, RetryScheduledEvent{
			Policy:  r.opts.Name,
			Attempt: attempt,
			Delay:   delay,
			Err:     err,
			At:      time.Now(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// Delay computes the backoff before the retry following the given attempt.
// It is a pure function of the options and attempt number, except for the
// jitter perturbation.
func Delay(opts RetryOptions, attempt int) time.Duration {
	var delay time.Duration

	switch opts.Strategy {
	case BackoffConstant:
		delay = opts.BaseDelay

	case BackoffLinear:
		delay = opts.BaseDelay * time.Duration(attempt)

	case BackoffExponential:
		factor := math.Pow(opts.Multiplier, float64(attempt-1))
		delay = time.Duration(float64(opts.BaseDelay) * factor)
	}

	if delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}

	if opts.UseJitter && opts.Strategy == BackoffExponential && delay > 0 {
		// Symmetric ±5% jitter.
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		spread := (rand.Float64()*2 - 1) * 0.05
		delay = time.Duration(float64(delay) * (1 + spread))
	}

	return delay
}
