package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testExecutorOptions() FaultToleranceOptions {
	return FaultToleranceOptions{
		Name:              "equipment-service",
		UseCircuitBreaker: true,
		UseRetry:          true,
		UseCompensation:   true,
		CircuitBreaker: &CircuitBreakerOptions{
			Name:             "equipment-db",
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          time.Second,
		},
		Retry: &RetryOptions{
			Name:        "equipment-db",
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
			Multiplier:  2.0,
		},
	}
}

func TestNewExecutor_ValidatesFlags(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*FaultToleranceOptions)
	}{
		{"missing name", func(o *FaultToleranceOptions) { o.Name = "" }},
		{"breaker enabled without options", func(o *FaultToleranceOptions) { o.CircuitBreaker = nil }},
		{"retry enabled without options", func(o *FaultToleranceOptions) { o.Retry = nil }},
		{"invalid breaker options", func(o *FaultToleranceOptions) { o.CircuitBreaker.FailureThreshold = 0 }},
		{"invalid retry options", func(o *FaultToleranceOptions) { o.Retry.MaxAttempts = 0 }},
		{"invalid rate limit options", func(o *FaultToleranceOptions) { o.RateLimit = &RateLimitOptions{Rate: 0, Burst: 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testExecutorOptions()
			cb := *opts.CircuitBreaker
			r := *opts.Retry
			opts.CircuitBreaker = &cb
			opts.Retry = &r
			tt.mod(&opts)
			if _, err := NewExecutor(opts); err == nil {
				t.Error("NewExecutor() error = nil, want validation error")
			}
		})
	}
}

func TestExecutor_DisabledLayersAreNotComposed(t *testing.T) {
	e, err := NewExecutor(FaultToleranceOptions{Name: "bare"})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	boom := errors.New("unavailable")
	attempts := 0
	got := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	})
	if got != boom {
		t.Errorf("Execute() error = %v, want original", got)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry layer)", attempts)
	}
}

func TestExecutor_RetriesCountTowardBreakerThreshold(t *testing.T) {
	opts := testExecutorOptions()
	opts.CircuitBreaker.FailureThreshold = 2
	opts.Retry.MaxAttempts = 5
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	attempts := 0
	got := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("connection refused")
	})

	// Each failed attempt counts individually: the breaker trips after 2,
	// the third attempt is rejected without invoking the operation, and the
	// rejection ends the retry loop.
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (breaker tripped mid-loop)", attempts)
	}
	if !errors.Is(got, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen", got)
	}
	if e.CircuitBreaker().State() != StateOpen {
		t.Errorf("breaker state = %v, want open", e.CircuitBreaker().State())
	}

	// While open, the next call is rejected immediately.
	attempts = 0
	got = e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0", attempts)
	}
	if !errors.Is(got, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen", got)
	}
}

func TestExecutor_RetryRecoversTransientFailure(t *testing.T) {
	e, err := NewExecutor(testExecutorOptions())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	attempts := 0
	got := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	if got != nil {
		t.Errorf("Execute() error = %v", got)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if e.CircuitBreaker().State() != StateClosed {
		t.Errorf("breaker state = %v, want closed (success reset)", e.CircuitBreaker().State())
	}
}

func TestExecutor_ExecuteSaga(t *testing.T) {
	e, err := NewExecutor(testExecutorOptions())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	var compensated []string
	mark := func(name string) CompensateFunc {
		return func(ctx context.Context) error {
			compensated = append(compensated, name)
			return nil
		}
	}

	boom := errors.New("debit failed")
	res, err := e.ExecuteSaga(context.Background(),
		NewStep("reserve", func(ctx context.Context) (any, error) { return nil, nil }, mark("reserve")),
		NewStep("debit", func(ctx context.Context) (any, error) { return nil, boom }, mark("debit")),
	)
	if err != boom {
		t.Errorf("ExecuteSaga() error = %v, want original failure", err)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Compensation == nil || res.Compensation.CompensatedCount != 1 {
		t.Errorf("Compensation = %+v, want one compensated step", res.Compensation)
	}
	if len(compensated) != 1 || compensated[0] != "reserve" {
		t.Errorf("compensated = %v, want [reserve]", compensated)
	}
}

func TestExecutor_ExecuteSaga_Disabled(t *testing.T) {
	opts := testExecutorOptions()
	opts.UseCompensation = false
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	if _, err := e.ExecuteSaga(context.Background()); !errors.Is(err, ErrCompensationDisabled) {
		t.Errorf("ExecuteSaga() error = %v, want ErrCompensationDisabled", err)
	}
}

func TestExecutor_RepublishesUnifiedTriggerEvents(t *testing.T) {
	notifier := NewNotifier(nil)
	opts := testExecutorOptions()
	opts.Notifier = notifier
	opts.Retry.MaxAttempts = 2
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	var mu sync.Mutex
	var triggers []TriggerEvent
	notifier.Subscribe(ListenerFunc(func(ctx context.Context, ev Event) {
		if tr, ok := ev.(TriggerEvent); ok {
			mu.Lock()
			triggers = append(triggers, tr)
			mu.Unlock()
		}
	}))

	_ = e.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("unavailable")
	})

	mu.Lock()
	defer mu.Unlock()
	// One retry scheduled, then exhaustion.
	kinds := map[EventKind]int{}
	for _, tr := range triggers {
		if tr.Service != "equipment-service" {
			t.Errorf("trigger service = %q, want equipment-service", tr.Service)
		}
		kinds[tr.Trigger]++
	}
	if kinds[EventRetryScheduled] != 1 {
		t.Errorf("retry triggers = %d, want 1", kinds[EventRetryScheduled])
	}
	if kinds[EventRetriesExhausted] != 1 {
		t.Errorf("exhausted triggers = %d, want 1", kinds[EventRetriesExhausted])
	}
	if kinds[EventExecutorTriggered] != 0 {
		t.Error("executor republished its own trigger events")
	}
}

func TestExecutor_RepublishesRecoveryTrigger(t *testing.T) {
	notifier := NewNotifier(nil)
	opts := testExecutorOptions()
	opts.Notifier = notifier
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	var mu sync.Mutex
	var recovered []TriggerEvent
	notifier.Subscribe(ListenerFunc(func(ctx context.Context, ev Event) {
		if tr, ok := ev.(TriggerEvent); ok && tr.Trigger == EventRetrySucceeded {
			mu.Lock()
			recovered = append(recovered, tr)
			mu.Unlock()
		}
	}))

	attempts := 0
	if err := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("connection refused")
		}
		return nil
	}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(recovered) != 1 {
		t.Fatalf("recovery triggers = %d, want 1", len(recovered))
	}
	if recovered[0].Service != "equipment-service" {
		t.Errorf("trigger service = %q, want equipment-service", recovered[0].Service)
	}
}

func TestExecutor_TimeoutLayer(t *testing.T) {
	opts := FaultToleranceOptions{
		Name:    "slow-service",
		Timeout: &TimeoutOptions{Name: "slow-service", Timeout: 20 * time.Millisecond},
	}
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	got := e.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(got, ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", got)
	}
}

func TestExecutor_BulkheadLayer(t *testing.T) {
	opts := FaultToleranceOptions{
		Name:     "capped",
		Bulkhead: &BulkheadOptions{Name: "capped", MaxConcurrent: 1},
	}
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- e.Execute(context.Background(), func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := e.Execute(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("Execute() while full = %v, want ErrBulkheadFull", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first operation error = %v", err)
	}
}

func TestExecutor_RateLimitLayer(t *testing.T) {
	opts := FaultToleranceOptions{
		Name: "throttled",
		// Rate low enough that no token refills during the test.
		RateLimit: &RateLimitOptions{Name: "throttled", Rate: 0.001, Burst: 1},
	}
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	calls := 0
	if err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("Execute() #1 error = %v", err)
	}

	got := e.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(got, ErrRateLimited) {
		t.Errorf("Execute() #2 error = %v, want ErrRateLimited", got)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (rejected call must not run)", calls)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	e, err := NewExecutor(testExecutorOptions())
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	attempts := 0
	got, err := Call(context.Background(), e, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("timeout")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Call() = %d, want 42", got)
	}
}

func TestCall_PropagatesError(t *testing.T) {
	e, err := NewExecutor(FaultToleranceOptions{Name: "bare"})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	boom := errors.New("nope")
	got, err := Call(context.Background(), e, func(ctx context.Context) (string, error) {
		return "", boom
	})
	if err != boom {
		t.Errorf("Call() error = %v, want original", err)
	}
	if got != "" {
		t.Errorf("Call() value = %q, want zero", got)
	}
}
