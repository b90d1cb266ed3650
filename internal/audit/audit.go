// Package audit defines the execution audit trail: one record per module
// attempt, one session per orchestration run. Recording is best-effort: sink
// failures must never fail the orchestration that produced the record.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AttemptKind distinguishes how an execution attempt was reached.
type AttemptKind string

const (
	AttemptPrimary  AttemptKind = "primary"
	AttemptRetry    AttemptKind = "retry"
	AttemptFallback AttemptKind = "fallback"
)

// ExecutionRecord captures a single module attempt. Append-only: one record
// per attempt, never mutated after completion.
type ExecutionRecord struct {
	ID           string      `json:"id"`
	SessionID    string      `json:"session_id"`
	ModuleName   string      `json:"module_name"`
	ResourceID   string      `json:"resource_id"`
	AttemptKind  AttemptKind `json:"attempt_kind"`
	Attempt      int         `json:"attempt"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time,omitempty"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"error_message,omitempty"`
	InputHash    string      `json:"input_hash"`
	OutputHash   string      `json:"output_hash,omitempty"`
	QualityScore *float64    `json:"quality_score,omitempty"`
}

// Duration returns the attempt's wall time.
func (r ExecutionRecord) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Session describes one orchestration run.
type Session struct {
	ID               string    `json:"id"`
	TargetKey        string    `json:"target_key"`
	Priority         string    `json:"priority,omitempty"`
	RequestedModules []string  `json:"requested_modules"`
	CompletedModules []string  `json:"completed_modules,omitempty"`
	FailedModules    []string  `json:"failed_modules,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	Success          bool      `json:"success"`
	PartialSuccess   bool      `json:"partial_success"`
	TotalTokens      int       `json:"total_tokens"`
	TotalCostUSD     float64   `json:"total_cost_usd"`
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
	RecordSessionStart(ctx context.Context, sess Session) error
	RecordSessionEnd(ctx context.Context, sess Session) error
}

// NopSink discards all audit events.
type NopSink struct{}

func (NopSink) RecordExecution(context.Context, ExecutionRecord) error { return nil }
func (NopSink) RecordSessionStart(context.Context, Session) error      { return nil }
func (NopSink) RecordSessionEnd(context.Context, Session) error        { return nil }

// LogSink writes audit events to the global logger. Useful when no store is
// configured.
type LogSink struct{}

func (LogSink) RecordExecution(_ context.Context, rec ExecutionRecord) error {
	zap.L().Info("module execution",
		zap.String("session_id", rec.SessionID),
		zap.String("module", rec.ModuleName),
		zap.String("resource", rec.ResourceID),
		zap.String("attempt_kind", string(rec.AttemptKind)),
		zap.Int("attempt", rec.Attempt),
		zap.Bool("success", rec.Success),
		zap.Duration("duration", rec.Duration()),
		zap.String("error", rec.ErrorMessage),
	)
	return nil
}

func (LogSink) RecordSessionStart(_ context.Context, sess Session) error {
	zap.L().Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("target", sess.TargetKey),
		zap.Strings("modules", sess.RequestedModules),
	)
	return nil
}

func (LogSink) RecordSessionEnd(_ context.Context, sess Session) error {
	zap.L().Info("session ended",
		zap.String("session_id", sess.ID),
		zap.String("target", sess.TargetKey),
		zap.Bool("success", sess.Success),
		zap.Bool("partial_success", sess.PartialSuccess),
		zap.Strings("completed", sess.CompletedModules),
		zap.Strings("failed", sess.FailedModules),
		zap.Int("total_tokens", sess.TotalTokens),
	)
	return nil
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	TargetKey string
	Since     time.Time
	Limit     int
}

// Store extends Sink with query and lifecycle operations, backed by a
// relational database.
type Store interface {
	Sink
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	ListExecutions(ctx context.Context, sessionID string) ([]ExecutionRecord, error)
	Migrate(ctx context.Context) error
	Close() error
}
