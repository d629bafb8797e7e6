package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadOptions configures the concurrency-cap layer.
type BulkheadOptions struct {
	// Name identifies the bulkhead.
	Name string

	// MaxConcurrent is the maximum number of operations in flight.
	MaxConcurrent int

	// MaxWait is how long a call may wait for a slot. Zero rejects
	// immediately when the bulkhead is full.
	MaxWait time.Duration
}

// Validate reports the first configuration error.
func (o BulkheadOptions) Validate() error {
	if o.MaxConcurrent <= 0 {
		return fmt.Errorf("resilience: max concurrent must be positive, got %d", o.MaxConcurrent)
	}
	if o.MaxWait < 0 {
		return fmt.Errorf("resilience: max wait must not be negative, got %v", o.MaxWait)
	}
	return nil
}

// Bulkhead caps the number of concurrent operations to prevent resource
// exhaustion.
type Bulkhead struct {
	opts BulkheadOptions
	sem  *semaphore.Weighted

	mu       sync.Mutex
	active   int
	peak     int
	rejected int64
}

// NewBulkhead creates a bulkhead.
func NewBulkhead(opts BulkheadOptions) (*Bulkhead, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Bulkhead{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}, nil
}

// Acquire claims a slot, waiting up to MaxWait. Returns ErrBulkheadFull when
// no slot frees up in time.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		b.markAcquired()
		return nil
	}

	if b.opts.MaxWait <= 0 {
		b.markRejected()
		return ErrBulkheadFull
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.opts.MaxWait)
	defer cancel()

	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		b.markRejected()
		return ErrBulkheadFull
	}
	b.markAcquired()
	return nil
}

// Release frees a slot claimed by Acquire.
func (b *Bulkhead) Release() {
	b.sem.Release(1)
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
}

// Execute runs op within the bulkhead.
func (b *Bulkhead) Execute(ctx context.Context, op Operation) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

func (b *Bulkhead) markAcquired() {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()
}

func (b *Bulkhead) markRejected() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}

// BulkheadSnapshot contains bulkhead statistics.
type BulkheadSnapshot struct {
	Active        int
	Peak          int
	Available     int
	MaxConcurrent int
	Rejected      int64
}

// Snapshot returns current bulkhead statistics.
func (b *Bulkhead) Snapshot() BulkheadSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BulkheadSnapshot{
		Active:        b.active,
		Peak:          b.peak,
		Available:     b.opts.MaxConcurrent - b.active,
		MaxConcurrent: b.opts.MaxConcurrent,
		Rejected:      b.rejected,
	}
}
