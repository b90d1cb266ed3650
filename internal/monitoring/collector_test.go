package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/audit"
	"github.com/sells-group/insight-cli/internal/ratelimit"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// mockAuditStore implements audit.Store for testing.
type mockAuditStore struct {
	sessions []audit.Session
	listErr  error
}

func (m *mockAuditStore) ListSessions(_ context.Context, filter audit.SessionFilter) ([]audit.Session, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []audit.Session
	for _, s := range m.sessions {
		if !filter.Since.IsZero() && s.StartedAt.Before(filter.Since) {
			continue
		}
		if filter.TargetKey != "" && s.TargetKey != filter.TargetKey {
			continue
		}
		filtered = append(filtered, s)
	}
	return filtered, nil
}

// Unused store methods satisfy the interface.
func (m *mockAuditStore) RecordExecution(context.Context, audit.ExecutionRecord) error { return nil }
func (m *mockAuditStore) RecordSessionStart(context.Context, audit.Session) error      { return nil }
func (m *mockAuditStore) RecordSessionEnd(context.Context, audit.Session) error        { return nil }
func (m *mockAuditStore) GetSession(context.Context, string) (*audit.Session, error) {
	return nil, nil
}
func (m *mockAuditStore) ListExecutions(context.Context, string) ([]audit.ExecutionRecord, error) {
	return nil, nil
}
func (m *mockAuditStore) Migrate(context.Context) error { return nil }
func (m *mockAuditStore) Close() error                  { return nil }

func TestCollector_EmptyStore(t *testing.T) {
	st := &mockAuditStore{}
	c := NewCollector(st, nil, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.SessionsTotal)
	assert.Equal(t, 0, snap.SessionsFailed)
	assert.Equal(t, 0.0, snap.SessionFailRate)
	assert.Equal(t, 0.0, snap.TotalCostUSD)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_SessionMetrics(t *testing.T) {
	now := time.Now().UTC()
	st := &mockAuditStore{
		sessions: []audit.Session{
			{ID: "1", Success: true, StartedAt: now.Add(-1 * time.Hour), TotalCostUSD: 1.50, TotalTokens: 5000},
			{ID: "2", Success: true, StartedAt: now.Add(-2 * time.Hour), TotalCostUSD: 2.00, TotalTokens: 7000},
			{ID: "3", PartialSuccess: true, StartedAt: now.Add(-3 * time.Hour), TotalCostUSD: 0.50, TotalTokens: 2000},
			{ID: "4", StartedAt: now.Add(-30 * time.Minute)},
			// Outside the lookback window, filtered out.
			{ID: "5", StartedAt: now.Add(-48 * time.Hour)},
		},
	}

	c := NewCollector(st, nil, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.SessionsTotal)
	assert.Equal(t, 2, snap.SessionsSuccess)
	assert.Equal(t, 1, snap.SessionsPartial)
	assert.Equal(t, 1, snap.SessionsFailed)
	assert.InDelta(t, 0.25, snap.SessionFailRate, 0.001)
	assert.InDelta(t, 4.00, snap.TotalCostUSD, 0.001)
	assert.Equal(t, 14000, snap.TotalTokens)
	assert.Equal(t, 3500, snap.AvgTokens)
}

func TestCollector_BreakerStates(t *testing.T) {
	st := &mockAuditStore{}
	reg := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 1}, nil)

	// Trip one breaker.
	cb := reg.Get("news")
	_, err := resilience.ExecuteVal(context.Background(), cb, func(context.Context) (struct{}, error) {
		return struct{}{}, assert.AnError
	})
	require.Error(t, err)
	reg.Get("quote") // stays closed

	c := NewCollector(st, reg, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, "open", snap.BreakerStates["news"])
	assert.Equal(t, "closed", snap.BreakerStates["quote"])
	assert.Equal(t, []string{"news"}, snap.OpenBreakers)
}

func TestCollector_RateLimitBudgets(t *testing.T) {
	st := &mockAuditStore{}
	lim := ratelimit.NewLimiter(map[string]ratelimit.BudgetConfig{
		"anthropic_api": {RequestsPerWindow: 10, Window: time.Minute},
	})
	require.NoError(t, lim.Acquire(context.Background(), "anthropic_api"))

	c := NewCollector(st, nil, lim)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	budget, ok := snap.Budgets["anthropic_api"]
	require.True(t, ok)
	assert.Equal(t, 10, budget.RequestsPerWindow)
	assert.Equal(t, 1, budget.Used)
}

func TestCollector_ListError(t *testing.T) {
	st := &mockAuditStore{listErr: assert.AnError}
	c := NewCollector(st, nil, nil)

	_, err := c.Collect(context.Background(), 24)
	assert.Error(t, err)
}
