package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OpState is the lifecycle state of one compensatable step. Transitions are
// monotonic within a single execute/compensate cycle: a step never
// re-executes after completion.
type OpState int

const (
	// OpNotStarted is the initial state.
	OpNotStarted OpState = iota
	// OpExecuting means the forward action is running.
	OpExecuting
	// OpCompleted means the forward action succeeded.
	OpCompleted
	// OpFailed means the forward action failed.
	OpFailed
	// OpCompensating means the rollback action is running.
	OpCompensating
	// OpCompensated means the rollback action succeeded.
	OpCompensated
	// OpCompensationFailed means the rollback action failed.
	OpCompensationFailed
)

// String returns the string form of the state.
func (s OpState) String() string {
	switch s {
	case OpNotStarted:
		return "not-started"
	case OpExecuting:
		return "executing"
	case OpCompleted:
		return "completed"
	case OpFailed:
		return "failed"
	case OpCompensating:
		return "compensating"
	case OpCompensated:
		return "compensated"
	case OpCompensationFailed:
		return "compensation-failed"
	default:
		return "unknown"
	}
}

var validOpTransitions = map[OpState]map[OpState]struct{}{
	OpNotStarted:   {OpExecuting: {}},
	OpExecuting:    {OpCompleted: {}, OpFailed: {}},
	OpCompleted:    {OpCompensating: {}},
	OpCompensating: {OpCompensated: {}, OpCompensationFailed: {}},
}

// canTransition checks the monotonic transition table.
func (s OpState) canTransition(next OpState) bool {
	nexts, ok := validOpTransitions[s]
	if !ok {
		return false
	}
	_, ok = nexts[next]
	return ok
}

// ExecuteFunc is the forward action of a step.
type ExecuteFunc func(ctx context.Context) (any, error)

// CompensateFunc reverses a completed step. It should be idempotent.
type CompensateFunc func(ctx context.Context) error

// Step is one compensatable unit in a saga. A Step is owned by the
// Coordinator that registered it and carries no reference back to it.
type Step struct {
	id         string
	name       string
	execute    ExecuteFunc
	compensate CompensateFunc

	mu     sync.Mutex
	state  OpState
	result any
}

// NewStep creates a step with an opaque unique ID. A nil compensate
// function marks the step as non-compensatable: it executes normally but is
// skipped during rollback.
func NewStep(name string, execute ExecuteFunc, compensate CompensateFunc) *Step {
	return &Step{
		id:         uuid.NewString(),
		name:       name,
		execute:    execute,
		compensate: compensate,
		state:      OpNotStarted,
	}
}

// ID returns the step's opaque unique identifier.
func (s *Step) ID() string { return s.id }

// Name returns the step's human-readable name.
func (s *Step) Name() string { return s.name }

// CanCompensate reports whether the step has a rollback action.
func (s *Step) CanCompensate() bool { return s.compensate != nil }

// State returns the step's current lifecycle state.
func (s *Step) State() OpState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the forward action's output, valid once completed.
func (s *Step) Result() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Step) transition(next OpState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.canTransition(next) {
		return fmt.Errorf("resilience: step %q invalid transition %s -> %s", s.name, s.state, next)
	}
	s.state = next
	return nil
}

// run executes the forward action, tracking NotStarted -> Executing ->
// (Completed|Failed).
func (s *Step) run(ctx context.Context) (any, error) {
	if err := s.transition(OpExecuting); err != nil {
		return nil, err
	}
	if s.execute == nil {
		_ = s.transition(OpFailed)
		return nil, fmt.Errorf("resilience: step %q has no execute function", s.name)
	}

	result, err := s.execute(ctx)
	if err != nil {
		_ = s.transition(OpFailed)
		return nil, err
	}

	s.mu.Lock()
	s.result = result
	s.mu.Unlock()
	_ = s.transition(OpCompleted)
	return result, nil
}

// rollback runs the compensation action, tracking Completed -> Compensating
// -> (Compensated|CompensationFailed).
func (s *Step) rollback(ctx context.Context) error {
	if err := s.transition(OpCompensating); err != nil {
		return err
	}

	if err := s.compensate(ctx); err != nil {
		_ = s.transition(OpCompensationFailed)
		return err
	}
	_ = s.transition(OpCompensated)
	return nil
}

// CompensationResult is the aggregate outcome of one rollback pass. It is
// produced once and immutable after construction.
type CompensationResult struct {
	// Success is true only when no compensation failed.
	Success bool
	// Errors holds one message per failed compensation or aborted pass.
	Errors []string
	// Warnings notes completed steps that could not be compensated.
	Warnings []string
	// CompensatedCount is the number of successfully rolled back steps.
	CompensatedCount int
	// FailedCompensationCount is the number of rollbacks that failed.
	FailedCompensationCount int
	// CompletedAt is when the pass finished.
	CompletedAt time.Time
}

// SagaResult is the outcome of Coordinator.ExecuteWithCompensation.
type SagaResult struct {
	// Success is true when every step completed and no rollback ran.
	Success bool
	// Results are the forward outputs in registration order; empty when the
	// saga failed.
	Results []any
	// Err is the original failure that triggered compensation, nil on
	// success. It is never masked by compensation outcomes.
	Err error
	// Compensation is the rollback outcome, nil when no rollback ran.
	Compensation *CompensationResult
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorNotifier attaches a notifier for compensation events.
func WithCoordinatorNotifier(n *Notifier) CoordinatorOption {
	return func(c *Coordinator) { c.notifier = n }
}

// WithCoordinatorLogger attaches a logger for coordinator diagnostics.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator tracks an ordered list of compensatable steps and rolls
// completed ones back in reverse order when execution fails.
//
// The step list is guarded by a mutex, but the execution of step bodies is
// not additionally synchronized: one Coordinator instance must not be reused
// for two overlapping sagas.
type Coordinator struct {
	name     string
	notifier *Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	steps []*Step
}

// NewCoordinator creates a coordinator for one saga.
func NewCoordinator(name string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{name: name}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Name returns the saga name.
func (c *Coordinator) Name() string { return c.name }

// Register appends steps in execution order.
func (c *Coordinator) Register(steps ...*Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, steps...)
}

// Steps returns a copy of the registered step list.
func (c *Coordinator) Steps() []*Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Clear removes all registered steps.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = nil
}

// ExecuteAll runs every registered step strictly in registration order and
// stops at the first failure without compensating. It returns the results
// gathered so far alongside the failure.
func (c *Coordinator) ExecuteAll(ctx context.Context) ([]any, error) {
	steps := c.Steps()
	results := make([]any, 0, len(steps))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := step.run(ctx)
		if err != nil {
			// The original failure is surfaced verbatim; wrapping happens
			// only at the outermost executor layer.
			return results, err
		}
		results = append(results, result)
	}

	return results, nil
}

// ExecuteWithCompensation runs ExecuteAll and, on failure, compensates every
// completed compensatable step in reverse registration order. The returned
// error is always the original failure; the compensation outcome travels in
// the SagaResult so it never masks the true cause.
func (c *Coordinator) ExecuteWithCompensation(ctx context.Context) (*SagaResult, error) {
	results, err := c.ExecuteAll(ctx)
	if err == nil {
		return &SagaResult{Success: true, Results: results}, nil
	}

	comp := c.compensateCompleted(ctx)
	return &SagaResult{
		Success:      false,
		Results:      []any{},
		Err:          err,
		Compensation: comp,
	}, err
}

// compensateCompleted rolls back completed compensatable steps, most recent
// first. Individual failures are recorded and rollback continues: the system
// may already be partially inconsistent and every recoverable resource
// should still be released. A coordinator-level fault is logged and folded
// into a failed result rather than re-thrown.
func (c *Coordinator) compensateCompleted(ctx context.Context) (result *CompensationResult) {
	result = &CompensationResult{}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("compensation pass aborted by panic",
				"saga", c.name,
				"panic", r,
			)
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("compensation pass panicked: %v", r))
			result.CompletedAt = time.Now()
		}
	}()

	var targets []*Step
	var warnings []string
	for _, step := range c.Steps() {
		if step.State() != OpCompleted {
			continue
		}
		if !step.CanCompensate() {
			warnings = append(warnings, fmt.Sprintf("step %q completed but cannot be compensated", step.Name()))
			continue
		}
		targets = append(targets, step)
	}

	// Undo most recent success first: later steps may depend on earlier
	// ones still being intact.
	for i, j := 0, len(targets)-1; i < j; i, j = i+1, j-1 {
		targets[i], targets[j] = targets[j], targets[i]
	}

	publish(ctx, c.notifier, CompensationStartedEvent{
		Saga:  c.name,
		Count: len(targets),
		At:    time.Now(),
	})

	result.Warnings = warnings
	for _, step := range targets {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("compensation aborted: %v", err))
			break
		}

		// An in-flight compensation always runs to completion; the
		// cancellation signal is honored between steps, not inside them.
		err := step.rollback(context.WithoutCancel(ctx))
		if err != nil {
			result.FailedCompensationCount++
			result.Errors = append(result.Errors, fmt.Sprintf("compensate %q: %v", step.Name(), err))
			c.logger.Warn("compensation step failed",
				"saga", c.name,
				"step", step.Name(),
				"error", err,
			)
		} else {
			result.CompensatedCount++
		}

		publish(ctx, c.notifier, OperationCompensatedEvent{
			Saga:      c.name,
			Operation: step.Name(),
			OK:        err == nil,
			Err:       err,
			At:        time.Now(),
		})
	}

	result.Success = result.FailedCompensationCount == 0 && len(result.Errors) == 0
	result.CompletedAt = time.Now()

	publish(ctx, c.notifier, CompensationCompletedEvent{
		Saga:   c.name,
		Result: *result,
		At:     result.CompletedAt,
	})
	return result
}
