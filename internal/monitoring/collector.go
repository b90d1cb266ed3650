package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/audit"
	"github.com/sells-group/insight-cli/internal/ratelimit"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Session metrics (within lookback window).
	SessionsTotal   int     `json:"sessions_total"`
	SessionsSuccess int     `json:"sessions_success"`
	SessionsPartial int     `json:"sessions_partial"`
	SessionsFailed  int     `json:"sessions_failed"`
	SessionFailRate float64 `json:"session_fail_rate"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	TotalTokens     int     `json:"total_tokens"`
	AvgTokens       int     `json:"avg_tokens"`

	// Circuit breaker states by resource.
	BreakerStates map[string]string `json:"breaker_states,omitempty"`
	OpenBreakers  []string          `json:"open_breakers,omitempty"`

	// Rate limit budget usage by resource.
	Budgets map[string]ratelimit.Budget `json:"budgets,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the audit store, the breaker registry
// and the rate limiter.
type Collector struct {
	store    audit.Store
	breakers *resilience.BreakerRegistry
	limiter  *ratelimit.Limiter
}

// NewCollector creates a new metrics collector. breakers and limiter may be
// nil when the corresponding subsystem is not running.
func NewCollector(st audit.Store, breakers *resilience.BreakerRegistry, limiter *ratelimit.Limiter) *Collector {
	return &Collector{store: st, breakers: breakers, limiter: limiter}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	sessions, err := c.store.ListSessions(ctx, audit.SessionFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}

	snap.SessionsTotal = len(sessions)
	for _, s := range sessions {
		switch {
		case s.Success:
			snap.SessionsSuccess++
		case s.PartialSuccess:
			snap.SessionsPartial++
		default:
			snap.SessionsFailed++
		}
		snap.TotalCostUSD += s.TotalCostUSD
		snap.TotalTokens += s.TotalTokens
	}
	if snap.SessionsTotal > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(snap.SessionsTotal)
		snap.AvgTokens = snap.TotalTokens / snap.SessionsTotal
	}

	if c.breakers != nil {
		snap.BreakerStates = make(map[string]string)
		for resource, state := range c.breakers.States() {
			snap.BreakerStates[resource] = state.String()
			if state == resilience.CircuitOpen {
				snap.OpenBreakers = append(snap.OpenBreakers, resource)
			}
		}
	}

	if c.limiter != nil {
		snap.Budgets = c.limiter.Snapshot()
	}

	return snap, nil
}
