package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind is a coarse classification tag assigned to an error once, at the
// boundary. Retry and notification decisions switch on this finite tag set
// instead of inspecting runtime types.
type ErrorKind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown ErrorKind = iota
	// KindValidation marks rejected input; never retryable.
	KindValidation
	// KindNotFound marks a missing entity; never retryable.
	KindNotFound
	// KindConflict marks a concurrent-modification or uniqueness conflict.
	KindConflict
	// KindTransient marks a failure expected to clear on its own; retryable.
	KindTransient
	// KindFatal marks a failure that retrying cannot help.
	KindFatal
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not-found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this kind should be retried.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// Kinder is implemented by errors that classify themselves.
type Kinder interface {
	Kind() ErrorKind
}

// kindError tags an error with an ErrorKind.
type kindError struct {
	err  error
	kind ErrorKind
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() error   { return e.err }
func (e *kindError) Kind() ErrorKind { return e.kind }

// Tag wraps err with an explicit classification. Tag returns nil when err is
// nil.
func Tag(err error, kind ErrorKind) error {
	if err == nil {
		return nil
	}
	return &kindError{err: err, kind: kind}
}

// ClassifyRule maps an error to a kind. Rules return ok=false to pass the
// error to the next rule.
type ClassifyRule func(err error) (kind ErrorKind, ok bool)

// Classifier resolves errors to an ErrorKind through an ordered rule list.
// A Classifier is built once at process start and injected into the
// components that need it; it has no mutable state after construction.
type Classifier struct {
	rules []ClassifyRule
}

// NewClassifier creates a classifier from the given rules, evaluated in
// order. Errors no rule claims are KindUnknown.
func NewClassifier(rules ...ClassifyRule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify resolves err to a kind. A nil error is KindUnknown.
func (c *Classifier) Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, rule := range c.rules {
		if kind, ok := rule(err); ok {
			return kind
		}
	}
	return KindUnknown
}

// SelfClassifyRule resolves errors that implement Kinder, including tagged
// errors produced by Tag.
func SelfClassifyRule(err error) (ErrorKind, bool) {
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind(), true
	}
	return KindUnknown, false
}

// ContextRule classifies context errors: a cancelled caller must not be
// retried, while a deadline is treated as a transient timeout.
func ContextRule(err error) (ErrorKind, bool) {
	if errors.Is(err, context.Canceled) {
		return KindFatal, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient, true
	}
	return KindUnknown, false
}

// RejectionRule classifies circuit breaker rejections as fatal: the call was
// never attempted and retrying immediately would only hammer an open circuit.
func RejectionRule(err error) (ErrorKind, bool) {
	if errors.Is(err, ErrCircuitOpen) {
		return KindFatal, true
	}
	return KindUnknown, false
}

// TimeoutRule classifies net.Error timeouts and the package's own ErrTimeout
// as transient.
func TimeoutRule(err error) (ErrorKind, bool) {
	if errors.Is(err, ErrTimeout) {
		return KindTransient, true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTransient, true
	}
	return KindUnknown, false
}

// Substrings that indicate a network-ish failure worth retrying.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporarily",
	"unavailable",
	"too many requests",
}

// MessageHeuristicRule classifies errors whose message looks network-ish as
// transient. It runs last in the default classifier; explicit tagging always
// wins.
func MessageHeuristicRule(err error) (ErrorKind, bool) {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return KindTransient, true
		}
	}
	return KindUnknown, false
}

// DefaultClassifier builds the standard rule chain: self-classifying errors,
// context errors, breaker rejections, timeouts, then message heuristics.
func DefaultClassifier() *Classifier {
	return NewClassifier(
		SelfClassifyRule,
		ContextRule,
		RejectionRule,
		TimeoutRule,
		MessageHeuristicRule,
	)
}
