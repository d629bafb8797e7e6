package observe

import (
	"context"
	"strings"
	"testing"
)

// TestConfigValidate_Valid verifies that a fully valid config passes validation.
func TestConfigValidate_Valid(t *testing.T) {
	cfg := Config{
		ServiceName: "test-service",
		Version:     "1.0.0",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "stdout",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "stdout",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}

// TestConfigValidate_MissingServiceName verifies that empty ServiceName fails validation.
func TestConfigValidate_MissingServiceName(t *testing.T) {
	cfg := Config{ServiceName: ""}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing service name, got nil")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "service name") {
		t.Errorf("expected error to contain 'service name', got: %v", err)
	}
}

// TestConfigValidate_UnknownTracingExporter verifies that unknown tracing exporter fails validation.
func TestConfigValidate_UnknownTracingExporter(t *testing.T) {
	cfg := Config{
		ServiceName: "test-service",
		Tracing: TracingConfig{
			Enabled:  true,
			Exporter: "unknown",
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown tracing exporter, got nil")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "unknown tracing exporter") {
		t.Errorf("expected error to contain 'unknown tracing exporter', got: %v", err)
	}
}

// TestConfigValidate_UnknownMetricsExporter verifies that unknown metrics exporter fails validation.
func TestConfigValidate_UnknownMetricsExporter(t *testing.T) {
	cfg := Config{
		ServiceName: "test-service",
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "badvalue",
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown metrics exporter, got nil")
	}
}

// TestConfigValidate_SamplePctOutOfRange verifies sample percentage bounds.
func TestConfigValidate_SamplePctOutOfRange(t *testing.T) {
	for _, pct := range []float64{-0.1, 1.1} {
		cfg := Config{
			ServiceName: "test-service",
			Tracing: TracingConfig{
				Enabled:   true,
				Exporter:  "stdout",
				SamplePct: pct,
			},
		}
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for sample pct %v, got nil", pct)
		}
	}
}

// TestConfigValidate_UnknownLogLevel verifies that unknown log levels fail validation.
func TestConfigValidate_UnknownLogLevel(t *testing.T) {
	cfg := Config{
		ServiceName: "test-service",
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "verbose",
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level, got nil")
	}
}

// TestConfigValidate_DisabledSubsystemsSkipped verifies disabled subsystems
// are not validated.
func TestConfigValidate_DisabledSubsystemsSkipped(t *testing.T) {
	cfg := Config{
		ServiceName: "test-service",
		Tracing:     TracingConfig{Enabled: false, Exporter: "bogus"},
		Metrics:     MetricsConfig{Enabled: false, Exporter: "bogus"},
		Logging:     LoggingConfig{Enabled: false, Level: "bogus"},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected nil error for disabled subsystems, got: %v", err)
	}
}

// TestNewObserver_AllDisabled verifies noop primitives when everything is off.
func TestNewObserver_AllDisabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	if obs.Tracer() == nil {
		t.Error("expected non-nil tracer")
	}
	if obs.Meter() == nil {
		t.Error("expected non-nil meter")
	}
	if obs.Logger() == nil {
		t.Error("expected non-nil logger")
	}

	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestNewObserver_InvalidConfig verifies validation happens at construction.
func TestNewObserver_InvalidConfig(t *testing.T) {
	if _, err := NewObserver(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
}

// TestNewObserver_NoneExporters verifies "none" exporters build real providers.
func TestNewObserver_NoneExporters(t *testing.T) {
	cfg := Config{
		ServiceName: "test-service",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.0},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}
	defer obs.Shutdown(context.Background())

	if obs.Tracer() == nil || obs.Meter() == nil {
		t.Fatal("expected configured tracer and meter")
	}
}

// TestObserver_ShutdownIdempotent verifies Shutdown can be called twice.
func TestObserver_ShutdownIdempotent(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{
		ServiceName: "test-service",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.0},
	})
	if err != nil {
		t.Fatalf("NewObserver failed: %v", err)
	}

	if err := obs.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	// OTel providers tolerate repeated shutdown.
	_ = obs.Shutdown(context.Background())
}
