package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutOptions configures the deadline layer.
type TimeoutOptions struct {
	// Name identifies the layer in notifications.
	Name string

	// Timeout is the maximum duration for one operation.
	Timeout time.Duration

	// Notifier receives TimeoutEvent notifications. Optional.
	Notifier *Notifier
}

// Validate reports the first configuration error.
func (o TimeoutOptions) Validate() error {
	if o.Timeout <= 0 {
		return fmt.Errorf("resilience: timeout must be positive, got %v", o.Timeout)
	}
	return nil
}

// Timeout bounds the duration of wrapped operations.
type Timeout struct {
	opts TimeoutOptions
}

// NewTimeout creates a timeout layer.
func NewTimeout(opts TimeoutOptions) (*Timeout, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Timeout{opts: opts}, nil
}

// Execute runs op under a deadline. Exceeding it returns ErrTimeout, always
// distinguishable from a failure of the operation itself. The operation's
// goroutine observes the deadline through its context.
func (t *Timeout) Execute(ctx context.Context, op Operation) error {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			publish(ctx, t.opts.Notifier, TimeoutEvent{
				Name:    t.opts.Name,
				Elapsed: time.Since(start),
				At:      time.Now(),
			})
			return ErrTimeout
		}
		return ctx.Err()
	}
}
