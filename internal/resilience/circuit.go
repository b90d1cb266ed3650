// Package resilience provides circuit breaker and retry patterns for external service calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the resource is known-bad; requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
// Callers can use it to distinguish "resource is known-bad right now" from
// "this specific call failed".
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before the next call is
	// allowed through as a half-open probe. Default: 60s.
	ResetTimeout time.Duration

	// MonitoringPeriod is the rolling window over which the error rate is
	// evaluated. Default: 120s.
	MonitoringPeriod time.Duration

	// ExpectedErrorRate opens the circuit when failures/requests within the
	// monitoring period exceeds it, even below FailureThreshold. Default: 0.5.
	ExpectedErrorRate float64

	// ShouldTrip optionally overrides which errors count toward the failure
	// threshold. If nil, every non-nil error counts.
	ShouldTrip func(err error) bool
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		MonitoringPeriod:  120 * time.Second,
		ExpectedErrorRate: 0.5,
	}
}

func (cfg CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = 120 * time.Second
	}
	if cfg.ExpectedErrorRate <= 0 || cfg.ExpectedErrorRate > 1 {
		cfg.ExpectedErrorRate = 0.5
	}
	return cfg
}

// CircuitCounters is a snapshot of a breaker's internal counters.
type CircuitCounters struct {
	State           CircuitState
	Failures        int
	Successes       int
	Requests        int
	LastFailureTime time.Time
	NextAttemptTime time.Time
}

// CircuitBreaker isolates a single named resource. All state transitions happen
// under the breaker's own mutex; independent resources never contend.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu    sync.Mutex
	state CircuitState

	failures        int // consecutive failures
	successes       int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	probeInFlight   bool

	// rolling window for error-rate evaluation
	windowStart    time.Time
	windowRequests int
	windowFailures int

	onStateChange []func(resource string, from, to CircuitState)

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named resource.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg.withDefaults(),
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Name returns the resource name this breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen without
// invoking fn if the circuit is open (or a half-open probe is already in
// flight). On success the failure counter resets; on failure it advances.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(err)
	return val, err
}

// State returns the current circuit state, accounting for an elapsed reset
// timeout (an open breaker past its next-attempt time reports half-open).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && !cb.nowFunc().Before(cb.nextAttemptTime) {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed and zeroes all counters, regardless
// of current state. Operator intervention path.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.windowRequests = 0
	cb.windowFailures = 0
	cb.probeInFlight = false
	cb.lastFailureTime = time.Time{}
	cb.nextAttemptTime = time.Time{}
	if old != CircuitClosed {
		cb.notify(old, CircuitClosed)
	}
}

// Counters returns a snapshot of the breaker's counters for observability.
func (cb *CircuitBreaker) Counters() CircuitCounters {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitCounters{
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		Requests:        cb.windowRequests,
		LastFailureTime: cb.lastFailureTime,
		NextAttemptTime: cb.nextAttemptTime,
	}
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollWindow()

	switch cb.state {
	case CircuitClosed:
		cb.windowRequests++
		return nil
	case CircuitOpen:
		if cb.nowFunc().Before(cb.nextAttemptTime) {
			return ErrCircuitOpen
		}
		// Reset timeout elapsed: this call becomes the half-open probe.
		cb.transition(CircuitHalfOpen)
		cb.probeInFlight = true
		cb.windowRequests++
		return nil
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		cb.windowRequests++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	if err == nil || !shouldTrip(err) {
		cb.successes++
		switch cb.state {
		case CircuitHalfOpen:
			// Probe succeeded: close and clear failure history.
			cb.probeInFlight = false
			cb.transition(CircuitClosed)
			cb.failures = 0
			cb.windowFailures = 0
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	cb.windowFailures++
	cb.lastFailureTime = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold || cb.errorRateExceeded() {
			cb.open()
		}
	case CircuitHalfOpen:
		// Probe failed: reopen and recompute the next attempt time.
		cb.probeInFlight = false
		cb.open()
	}
}

// errorRateExceeded reports whether the windowed failure ratio went past the
// expected error rate. Requires a minimum of requests so a single failure at
// window start doesn't trip a fresh breaker.
func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.windowRequests < cb.cfg.FailureThreshold {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowRequests) > cb.cfg.ExpectedErrorRate
}

// rollWindow resets the monitoring-period counters once the window has lapsed.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) rollWindow() {
	now := cb.nowFunc()
	if cb.windowStart.IsZero() || now.Sub(cb.windowStart) >= cb.cfg.MonitoringPeriod {
		cb.windowStart = now
		cb.windowRequests = 0
		cb.windowFailures = 0
	}
}

// open transitions to OPEN and schedules the next probe. Caller must hold cb.mu.
func (cb *CircuitBreaker) open() {
	cb.nextAttemptTime = cb.nowFunc().Add(cb.cfg.ResetTimeout)
	cb.transition(CircuitOpen)
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	for _, fn := range cb.onStateChange {
		fn(cb.name, from, to)
	}
}
