// Package observe provides telemetry for protected operations: tracing,
// metrics, and structured logging around calls that run through resilience
// layers.
//
// It is a pure instrumentation library: no execution, no transport, no I/O
// beyond exporter setup. Consumers wire the observer into their service
// wiring and subscribe the event metrics bridge to a resilience notifier.
package observe
