package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/audit"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/ratelimit"
	"github.com/sells-group/insight-cli/internal/resilience"
)

func newTestEnv(t *testing.T) *serverEnv {
	t.Helper()
	st, err := audit.NewSQLite(t.TempDir() + "/audit.db")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{}, nil)
	return &serverEnv{
		store:    st,
		breakers: breakers,
		metrics:  monitoring.NewCollector(st, breakers, ratelimit.NewLimiter(nil)),
		lookback: 24,
	}
}

func TestRouter_HealthEndpoint(t *testing.T) {
	r := buildRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Analyze_Accepted_NilOrchestrator(t *testing.T) {
	// With a nil orchestrator, the goroutine skips the run gracefully.
	r := buildRouter(context.Background(), newTestEnv(t))

	payload := map[string]string{"symbol": "acme"}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "ACME", resp["symbol"])

	// Give the goroutine time to execute the nil check path.
	time.Sleep(10 * time.Millisecond)
}

func TestRouter_Analyze_MissingSymbol(t *testing.T) {
	r := buildRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "symbol is required")
}

func TestRouter_Analyze_InvalidBody(t *testing.T) {
	r := buildRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader([]byte(`{not json`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Sessions_ListAndShow(t *testing.T) {
	env := newTestEnv(t)
	r := buildRouter(context.Background(), env)

	sess := audit.Session{
		ID:               "sess-1",
		TargetKey:        "ACME",
		RequestedModules: []string{"fundamentals"},
		StartedAt:        time.Now().UTC(),
	}
	require.NoError(t, env.store.RecordSessionStart(context.Background(), sess))

	req := httptest.NewRequest(http.MethodGet, "/sessions?symbol=acme", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var sessions []audit.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/sessions/sess-1", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		Session    audit.Session           `json:"session"`
		Executions []audit.ExecutionRecord `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	assert.Equal(t, "ACME", detail.Session.TargetKey)
	assert.Empty(t, detail.Executions)
}

func TestRouter_Sessions_NotFound(t *testing.T) {
	r := buildRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/sessions/nope", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_Breakers_ListAndReset(t *testing.T) {
	env := newTestEnv(t)
	r := buildRouter(context.Background(), env)

	// Trip a breaker, then reset it over HTTP.
	cb := env.breakers.Get("quote")
	for i := 0; i < 10; i++ {
		_, _ = resilience.ExecuteVal(context.Background(), cb, func(context.Context) (struct{}, error) {
			return struct{}{}, assert.AnError
		})
	}
	require.Equal(t, resilience.CircuitOpen, cb.State())

	req := httptest.NewRequest(http.MethodGet, "/breakers", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var states map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &states))
	assert.Equal(t, "open", states["quote"])

	req = httptest.NewRequest(http.MethodPost, "/breakers/quote/reset", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, resilience.CircuitClosed, cb.State())
}

func TestRouter_Metrics(t *testing.T) {
	r := buildRouter(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 24, snap.LookbackHours)
}
