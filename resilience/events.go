package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies the type of a resilience notification.
type EventKind string

// Event kinds published by the package.
const (
	EventStateChange           EventKind = "circuit.state_change"
	EventRetryScheduled        EventKind = "retry.scheduled"
	EventRetrySucceeded        EventKind = "retry.succeeded"
	EventRetriesExhausted      EventKind = "retry.exhausted"
	EventOperationTimedOut     EventKind = "timeout.exceeded"
	EventCompensationStarted   EventKind = "saga.compensation_started"
	EventOperationCompensated  EventKind = "saga.operation_compensated"
	EventCompensationCompleted EventKind = "saga.compensation_completed"
	EventExecutorTriggered     EventKind = "executor.triggered"
)

// Event is a typed, timestamped notification payload.
type Event interface {
	// EventKind identifies the payload type.
	EventKind() EventKind
	// Source names the component that published the event.
	Source() string
	// Timestamp is when the event occurred.
	Timestamp() time.Time
}

// StateChangeEvent reports a circuit breaker transition.
type StateChangeEvent struct {
	Circuit string
	From    State
	To      State
	// Cause is the failure that triggered the transition, if any.
	Cause error
	At    time.Time
}

func (e StateChangeEvent) EventKind() EventKind { return EventStateChange }
func (e StateChangeEvent) Source() string       { return e.Circuit }
func (e StateChangeEvent) Timestamp() time.Time { return e.At }

// RetryScheduledEvent reports that a failed attempt will be retried after a
// delay.
type RetryScheduledEvent struct {
	Policy  string
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

func (e RetryScheduledEvent) EventKind() EventKind { return EventRetryScheduled }
func (e RetryScheduledEvent) Source() string       { return e.Policy }
func (e RetryScheduledEvent) Timestamp() time.Time { return e.At }

// RetrySucceededEvent reports an operation that recovered after at least one
// failed attempt. First-attempt successes publish nothing.
type RetrySucceededEvent struct {
	Policy   string
	Attempts int
	Elapsed  time.Duration
	At       time.Time
}

func (e RetrySucceededEvent) EventKind() EventKind { return EventRetrySucceeded }
func (e RetrySucceededEvent) Source() string       { return e.Policy }
func (e RetrySucceededEvent) Timestamp() time.Time { return e.At }

// RetriesExhaustedEvent reports that no further attempts will be made.
type RetriesExhaustedEvent struct {
	Policy   string
	Attempts int
	Err      error
	At       time.Time
}

func (e RetriesExhaustedEvent) EventKind() EventKind { return EventRetriesExhausted }
func (e RetriesExhaustedEvent) Source() string       { return e.Policy }
func (e RetriesExhaustedEvent) Timestamp() time.Time { return e.At }

// TimeoutEvent reports an operation cut off by its deadline layer.
type TimeoutEvent struct {
	Name    string
	Elapsed time.Duration
	At      time.Time
}

func (e TimeoutEvent) EventKind() EventKind { return EventOperationTimedOut }
func (e TimeoutEvent) Source() string       { return e.Name }
func (e TimeoutEvent) Timestamp() time.Time { return e.At }

// CompensationStartedEvent reports the beginning of a rollback pass.
type CompensationStartedEvent struct {
	Saga  string
	Count int
	At    time.Time
}

func (e CompensationStartedEvent) EventKind() EventKind { return EventCompensationStarted }
func (e CompensationStartedEvent) Source() string       { return e.Saga }
func (e CompensationStartedEvent) Timestamp() time.Time { return e.At }

// OperationCompensatedEvent reports the outcome of one step's rollback.
type OperationCompensatedEvent struct {
	Saga      string
	Operation string
	OK        bool
	Err       error
	At        time.Time
}

func (e OperationCompensatedEvent) EventKind() EventKind { return EventOperationCompensated }
func (e OperationCompensatedEvent) Source() string       { return e.Saga }
func (e OperationCompensatedEvent) Timestamp() time.Time { return e.At }

// CompensationCompletedEvent reports the final rollback result.
type CompensationCompletedEvent struct {
	Saga   string
	Result CompensationResult
	At     time.Time
}

func (e CompensationCompletedEvent) EventKind() EventKind { return EventCompensationCompleted }
func (e CompensationCompletedEvent) Source() string       { return e.Saga }
func (e CompensationCompletedEvent) Timestamp() time.Time { return e.At }

// TriggerEvent is the unified "fault tolerance triggered" notification the
// Executor republishes for every wrapped-pattern event.
type TriggerEvent struct {
	Service string
	Trigger EventKind
	Details string
	Err     error
	At      time.Time
}

func (e TriggerEvent) EventKind() EventKind { return EventExecutorTriggered }
func (e TriggerEvent) Source() string       { return e.Service }
func (e TriggerEvent) Timestamp() time.Time { return e.At }

// Listener receives resilience events. Implementations must not block;
// delivery is synchronous on the publishing goroutine.
type Listener interface {
	OnEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Notifier dispatches events to registered listeners. Delivery is
// synchronous and best-effort: a panicking listener is recovered and logged
// and never affects the publisher's control flow.
type Notifier struct {
	logger *slog.Logger

	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

// NewNotifier creates a notifier. A nil logger discards diagnostics.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener and returns a token for Unsubscribe.
func (n *Notifier) Subscribe(l Listener) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	token := n.next
	n.next++
	n.listeners[token] = l
	return token
}

// Unsubscribe removes the listener registered under token.
func (n *Notifier) Unsubscribe(token int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, token)
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Publish delivers ev to every registered listener.
func (n *Notifier) Publish(ctx context.Context, ev Event) {
	n.mu.RLock()
	snapshot := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		snapshot = append(snapshot, l)
	}
	n.mu.RUnlock()

	for _, l := range snapshot {
		n.deliver(ctx, l, ev)
	}
}

func (n *Notifier) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("resilience listener panicked",
				"event", string(ev.EventKind()),
				"source", ev.Source(),
				"panic", r,
			)
		}
	}()
	l.OnEvent(ctx, ev)
}

// publish is a nil-safe helper used by components holding an optional
// notifier.
func publish(ctx context.Context, n *Notifier, ev Event) {
	if n != nil {
		n.Publish(ctx, ev)
	}
}
