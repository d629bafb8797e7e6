package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitOptions configures the token-bucket admission layer.
type RateLimitOptions struct {
	// Name identifies the limiter.
	Name string

	// Rate is the sustained number of operations admitted per second.
	Rate float64

	// Burst is the bucket capacity: how many operations may be admitted
	// back to back after an idle period.
	Burst int

	// MaxWait is how long a call may wait for a token. Zero rejects
	// immediately when the bucket is empty.
	MaxWait time.Duration
}

// Validate reports the first configuration error.
func (o RateLimitOptions) Validate() error {
	if o.Rate <= 0 {
		return fmt.Errorf("resilience: rate must be positive, got %g", o.Rate)
	}
	if o.Burst <= 0 {
		return fmt.Errorf("resilience: burst must be positive, got %d", o.Burst)
	}
	if o.MaxWait < 0 {
		return fmt.Errorf("resilience: max wait must not be negative, got %v", o.MaxWait)
	}
	return nil
}

// RateLimiter is a token-bucket limiter that smooths the call rate toward a
// downstream dependency. Where the bulkhead caps how many calls are in
// flight at once, the limiter caps how fast they arrive, so a recovering
// dependency sees at most Rate calls per second instead of the whole backlog.
type RateLimiter struct {
	opts RateLimitOptions

	mu       sync.Mutex
	tokens   float64
	last     time.Time
	rejected int64
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(opts RateLimitOptions) (*RateLimiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &RateLimiter{
		opts:   opts,
		tokens: float64(opts.Burst),
		last:   time.Now(),
	}, nil
}

// Name returns the limiter name.
func (rl *RateLimiter) Name() string {
	return rl.opts.Name
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Acquire claims a token, waiting up to MaxWait for the bucket to refill.
// Returns ErrRateLimited when no token frees up in time; caller cancellation
// surfaces as the context error.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rl.Allow() {
		return nil
	}

	if rl.opts.MaxWait <= 0 {
		rl.markRejected()
		return ErrRateLimited
	}

	rl.mu.Lock()
	deficit := 1 - rl.tokens
	wait := time.Duration(deficit / rl.opts.Rate * float64(time.Second))
	rl.mu.Unlock()
	if wait > rl.opts.MaxWait {
		wait = rl.opts.MaxWait
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	if rl.Allow() {
		return nil
	}
	rl.markRejected()
	return ErrRateLimited
}

// Execute runs op once a token is available.
func (rl *RateLimiter) Execute(ctx context.Context, op Operation) error {
	if err := rl.Acquire(ctx); err != nil {
		return err
	}
	return op(ctx)
}

// Reset refills the bucket to capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.opts.Burst)
	rl.last = time.Now()
}

// Tokens returns the number of currently available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) markRejected() {
	rl.mu.Lock()
	rl.rejected++
	rl.mu.Unlock()
}

// refillLocked converts elapsed time into tokens, capped at the burst size.
func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	rl.tokens += now.Sub(rl.last).Seconds() * rl.opts.Rate
	rl.last = now
	if rl.tokens > float64(rl.opts.Burst) {
		rl.tokens = float64(rl.opts.Burst)
	}
}

// RateLimitSnapshot contains rate limiter statistics.
type RateLimitSnapshot struct {
	Tokens   float64
	Burst    int
	Rate     float64
	Rejected int64
}

// Snapshot returns current rate limiter statistics.
func (rl *RateLimiter) Snapshot() RateLimitSnapshot {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return RateLimitSnapshot{
		Tokens:   rl.tokens,
		Burst:    rl.opts.Burst,
		Rate:     rl.opts.Rate,
		Rejected: rl.rejected,
	}
}
