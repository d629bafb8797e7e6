package health

import (
	"context"
	"errors"
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestResultConstructors(t *testing.T) {
	h := Healthy("ok")
	if h.Status != StatusHealthy || h.Message != "ok" || h.Timestamp.IsZero() {
		t.Errorf("Healthy() = %+v", h)
	}

	d := Degraded("slow")
	if d.Status != StatusDegraded {
		t.Errorf("Degraded() status = %v", d.Status)
	}

	boom := errors.New("down")
	u := Unhealthy("db unreachable", boom)
	if u.Status != StatusUnhealthy || u.Error != boom {
		t.Errorf("Unhealthy() = %+v", u)
	}
}

func TestResult_WithDetails(t *testing.T) {
	r := Healthy("ok").WithDetails(map[string]any{"state": "closed"})
	if r.Details["state"] != "closed" {
		t.Errorf("Details = %v", r.Details)
	}
}

func TestCheckerFunc(t *testing.T) {
	c := NewCheckerFunc("probe", func(ctx context.Context) Result {
		return Healthy("ok")
	})

	if c.Name() != "probe" {
		t.Errorf("Name() = %q, want probe", c.Name())
	}
	if got := c.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Check() status = %v, want healthy", got.Status)
	}
}
