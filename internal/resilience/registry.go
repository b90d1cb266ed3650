package resilience

import (
	"sync"
)

// StateListener is notified whenever any breaker in a registry changes state.
// Explicit registration replaces ad-hoc cross-component event plumbing.
type StateListener func(resource string, from, to CircuitState)

// BreakerRegistry manages one circuit breaker per named resource, created
// lazily on first use. Per-resource config overrides take precedence over the
// registry default.
type BreakerRegistry struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  CircuitBreakerConfig
	overrides map[string]CircuitBreakerConfig
	listeners []StateListener
}

// NewBreakerRegistry creates a registry with the given default config and
// optional per-resource overrides.
func NewBreakerRegistry(defaults CircuitBreakerConfig, overrides map[string]CircuitBreakerConfig) *BreakerRegistry {
	ov := make(map[string]CircuitBreakerConfig, len(overrides))
	for name, cfg := range overrides {
		ov[name] = cfg
	}
	return &BreakerRegistry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults.withDefaults(),
		overrides: ov,
	}
}

// OnStateChange registers a listener invoked on every state transition of
// every breaker, existing and future.
func (r *BreakerRegistry) OnStateChange(fn StateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
	for _, cb := range r.breakers {
		cb.addListener(fn)
	}
}

// Get returns the circuit breaker for the named resource, creating one if needed.
func (r *BreakerRegistry) Get(resource string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[resource]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = r.breakers[resource]; ok {
		return cb
	}

	cfg := r.defaults
	if override, ok := r.overrides[resource]; ok {
		cfg = override
	}
	cb = NewCircuitBreaker(resource, cfg)
	for _, fn := range r.listeners {
		cb.addListener(fn)
	}
	r.breakers[resource] = cb
	return cb
}

// States returns a snapshot of every breaker's current state.
func (r *BreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]CircuitState, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State()
	}
	return states
}

// Counters returns a snapshot of every breaker's counters.
func (r *BreakerRegistry) Counters() map[string]CircuitCounters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counters := make(map[string]CircuitCounters, len(r.breakers))
	for name, cb := range r.breakers {
		counters[name] = cb.Counters()
	}
	return counters
}

// Reset forces the named breaker (if it exists) back to closed.
func (r *BreakerRegistry) Reset(resource string) {
	r.mu.RLock()
	cb, ok := r.breakers[resource]
	r.mu.RUnlock()
	if ok {
		cb.Reset()
	}
}

// ResetAll forces every breaker back to closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}

func (cb *CircuitBreaker) addListener(fn StateListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = append(cb.onStateChange, func(resource string, from, to CircuitState) {
		fn(resource, from, to)
	})
}
