package resilience

import (
	"sort"
	"sync"
)

// Registry holds one circuit breaker per named downstream dependency so that
// every caller of the same dependency shares the same instance. Tripping a
// shared breaker affects all of its callers, which is the point.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the breaker registered under opts.Name, creating it
// from opts on first use. Options of later callers are ignored once the
// breaker exists.
func (r *Registry) GetOrCreate(opts CircuitBreakerOptions) (*CircuitBreaker, error) {
	r.mu.RLock()
	cb, ok := r.breakers[opts.Name]
	r.mu.RUnlock()
	if ok {
		return cb, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[opts.Name]; ok {
		return cb, nil
	}

	cb, err := NewCircuitBreaker(opts)
	if err != nil {
		return nil, err
	}
	r.breakers[opts.Name] = cb
	return cb, nil
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetAll forces every registered breaker closed.
func (r *Registry) ResetAll() {
	for _, cb := range r.snapshotBreakers() {
		cb.Reset()
	}
}

// Snapshots returns a point-in-time view of every registered breaker, keyed
// by name.
func (r *Registry) Snapshots() map[string]CircuitSnapshot {
	breakers := r.snapshotBreakers()
	out := make(map[string]CircuitSnapshot, len(breakers))
	for _, cb := range breakers {
		out[cb.Name()] = cb.Snapshot()
	}
	return out
}

// snapshotBreakers copies the breaker list so per-breaker locks are never
// taken while holding the registry lock.
func (r *Registry) snapshotBreakers() []*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	return out
}
