package health

import (
	"context"
	"fmt"
	"time"

	"github.com/faultops/faultops/resilience"
)

// BreakerChecker reports the health of one circuit breaker. A closed breaker
// is healthy, a half-open breaker is degraded while it probes, and an open
// breaker is unhealthy.
type BreakerChecker struct {
	breaker *resilience.CircuitBreaker
}

// NewBreakerChecker creates a checker for the given breaker.
func NewBreakerChecker(cb *resilience.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{breaker: cb}
}

// Name returns the breaker name.
func (c *BreakerChecker) Name() string {
	return c.breaker.Name()
}

// Check maps the breaker state onto a health status.
func (c *BreakerChecker) Check(ctx context.Context) Result {
	snap := c.breaker.Snapshot()

	details := map[string]any{
		"state":     snap.State.String(),
		"failures":  snap.Failures,
		"successes": snap.Successes,
	}
	if !snap.LastFailure.IsZero() {
		details["last_failure"] = snap.LastFailure.UTC().Format(time.RFC3339)
	}

	switch snap.State {
	case resilience.StateClosed:
		return Healthy(fmt.Sprintf("circuit %q closed", snap.Name)).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded(fmt.Sprintf("circuit %q probing after trip", snap.Name)).WithDetails(details)
	default:
		return Unhealthy(fmt.Sprintf("circuit %q open", snap.Name), resilience.ErrCircuitOpen).WithDetails(details)
	}
}

// RegistryChecker reports the combined health of every breaker in a
// registry: unhealthy when any breaker is open, degraded when any is
// half-open, healthy otherwise.
type RegistryChecker struct {
	registry *resilience.Registry
}

// NewRegistryChecker creates a checker for the given registry.
func NewRegistryChecker(r *resilience.Registry) *RegistryChecker {
	return &RegistryChecker{registry: r}
}

// Name identifies the composite breaker check.
func (c *RegistryChecker) Name() string {
	return "circuit-breakers"
}

// Check inspects every registered breaker.
func (c *RegistryChecker) Check(ctx context.Context) Result {
	snaps := c.registry.Snapshots()

	details := make(map[string]any, len(snaps))
	var open, probing []string
	for name, snap := range snaps {
		details[name] = snap.State.String()
		switch snap.State {
		case resilience.StateOpen:
			open = append(open, name)
		case resilience.StateHalfOpen:
			probing = append(probing, name)
		}
	}

	switch {
	case len(open) > 0:
		return Unhealthy(fmt.Sprintf("%d of %d circuits open", len(open), len(snaps)), resilience.ErrCircuitOpen).
			WithDetails(details)
	case len(probing) > 0:
		return Degraded(fmt.Sprintf("%d of %d circuits probing", len(probing), len(snaps))).
			WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("all %d circuits closed", len(snaps))).WithDetails(details)
	}
}
