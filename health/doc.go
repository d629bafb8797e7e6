// Package health exposes the state of resilience components as health
// checks.
//
// A Checker reports the Status of one component: Healthy, Degraded, or
// Unhealthy. BreakerChecker maps circuit breaker states onto those statuses
// (closed, half-open, open), and RegistryChecker does the same for a whole
// breaker registry. Aggregator combines checkers into a composite check, and
// the HTTP handlers expose the results as liveness, readiness, and detailed
// endpoints:
//
//	agg := health.NewAggregator()
//	agg.Register("inventory-db", health.NewBreakerChecker(breaker))
//	agg.Register("breakers", health.NewRegistryChecker(registry))
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
package health
