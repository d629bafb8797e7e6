package observe

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/faultops/faultops/resilience"
)

// EventMetrics translates resilience notifications into OpenTelemetry
// counters. Subscribe it to the notifier carrying the events:
//
//	em, _ := observe.NewEventMetrics(obs.Meter())
//	notifier.Subscribe(em)
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: OnEvent is best-effort; event types without a counter are
//     ignored.
type EventMetrics struct {
	transitions   metric.Int64Counter
	retries       metric.Int64Counter
	exhausted     metric.Int64Counter
	timeouts      metric.Int64Counter
	compensations metric.Int64Counter
}

// NewEventMetrics creates the counters on the given meter.
func NewEventMetrics(meter metric.Meter) (*EventMetrics, error) {
	transitions, err := meter.Int64Counter(
		"resilience.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"resilience.retry.scheduled",
		metric.WithDescription("Retry attempts scheduled after a failure"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	exhausted, err := meter.Int64Counter(
		"resilience.retry.exhausted",
		metric.WithDescription("Operations that ran out of retry attempts"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	timeouts, err := meter.Int64Counter(
		"resilience.timeouts",
		metric.WithDescription("Operations cut off by their deadline layer"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	compensations, err := meter.Int64Counter(
		"resilience.compensation.steps",
		metric.WithDescription("Individual compensation step outcomes"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	return &EventMetrics{
		transitions:   transitions,
		retries:       retries,
		exhausted:     exhausted,
		timeouts:      timeouts,
		compensations: compensations,
	}, nil
}

// OnEvent implements resilience.Listener.
func (em *EventMetrics) OnEvent(ctx context.Context, ev resilience.Event) {
	switch v := ev.(type) {
	case resilience.StateChangeEvent:
		em.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("circuit", v.Circuit),
			attribute.String("from", v.From.String()),
			attribute.String("to", v.To.String()),
		))

	case resilience.RetryScheduledEvent:
		em.retries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("policy", v.Policy),
			attribute.Int("attempt", v.Attempt),
		))

	case resilience.RetriesExhaustedEvent:
		em.exhausted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("policy", v.Policy),
			attribute.Int("attempts", v.Attempts),
		))

	case resilience.TimeoutEvent:
		em.timeouts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("name", v.Name),
		))

	case resilience.OperationCompensatedEvent:
		em.compensations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("saga", v.Saga),
			attribute.String("ok", strconv.FormatBool(v.OK)),
		))
	}
}

var _ resilience.Listener = (*EventMetrics)(nil)
