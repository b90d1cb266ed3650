package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "audit: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "audit: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	target_key        TEXT NOT NULL,
	priority          TEXT,
	requested_modules TEXT NOT NULL,
	completed_modules TEXT,
	failed_modules    TEXT,
	started_at        DATETIME NOT NULL,
	ended_at          DATETIME,
	success           INTEGER NOT NULL DEFAULT 0,
	partial_success   INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	total_cost_usd    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	module_name   TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	attempt_kind  TEXT NOT NULL,
	attempt       INTEGER NOT NULL,
	start_time    DATETIME NOT NULL,
	end_time      DATETIME,
	success       INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	input_hash    TEXT,
	output_hash   TEXT,
	quality_score REAL
);

CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_target ON sessions(target_key, started_at);
`

// Migrate creates the audit tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "audit: sqlite migrate")
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSessionStart inserts a session row.
func (s *SQLiteStore) RecordSessionStart(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, target_key, priority, requested_modules, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.TargetKey, sess.Priority, joinList(sess.RequestedModules), sess.StartedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "audit: insert session")
	}
	return nil
}

// RecordSessionEnd finalizes a session row.
func (s *SQLiteStore) RecordSessionEnd(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET completed_modules = ?, failed_modules = ?, ended_at = ?,
		 success = ?, partial_success = ?, total_tokens = ?, total_cost_usd = ?
		 WHERE id = ?`,
		joinList(sess.CompletedModules), joinList(sess.FailedModules), sess.EndedAt.UTC(),
		sess.Success, sess.PartialSuccess, sess.TotalTokens, sess.TotalCostUSD, sess.ID,
	)
	if err != nil {
		return eris.Wrap(err, "audit: update session")
	}
	return nil
}

// RecordExecution appends one execution record.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var endTime any
	if !rec.EndTime.IsZero() {
		endTime = rec.EndTime.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, session_id, module_name, resource_id, attempt_kind, attempt,
		 start_time, end_time, success, error_message, input_hash, output_hash, quality_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.ModuleName, rec.ResourceID, string(rec.AttemptKind), rec.Attempt,
		rec.StartTime.UTC(), endTime, rec.Success, rec.ErrorMessage, rec.InputHash, rec.OutputHash,
		rec.QualityScore,
	)
	if err != nil {
		return eris.Wrap(err, "audit: insert execution")
	}
	return nil
}

// GetSession fetches a single session by id. Returns nil if not found.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, target_key, priority, requested_modules, completed_modules, failed_modules,
		 started_at, ended_at, success, partial_success, total_tokens, total_cost_usd
		 FROM sessions WHERE id = ?`, sessionID)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "audit: get session")
	}
	return sess, nil
}

// ListSessions returns sessions matching the filter, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	query := `SELECT id, target_key, priority, requested_modules, completed_modules, failed_modules,
		 started_at, ended_at, success, partial_success, total_tokens, total_cost_usd
		 FROM sessions WHERE 1=1`
	var args []any
	if filter.TargetKey != "" {
		query += ` AND target_key = ?`
		args = append(args, filter.TargetKey)
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "audit: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// ListExecutions returns all execution records for a session in attempt order.
func (s *SQLiteStore) ListExecutions(ctx context.Context, sessionID string) ([]ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, module_name, resource_id, attempt_kind, attempt, start_time,
		 end_time, success, error_message, input_hash, output_hash, quality_score
		 FROM executions WHERE session_id = ? ORDER BY start_time ASC`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list executions")
	}
	defer rows.Close() //nolint:errcheck

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var kind string
		var endTime sql.NullTime
		var errMsg, inputHash, outputHash sql.NullString
		var score sql.NullFloat64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ModuleName, &rec.ResourceID, &kind,
			&rec.Attempt, &rec.StartTime, &endTime, &rec.Success, &errMsg, &inputHash,
			&outputHash, &score); err != nil {
			return nil, eris.Wrap(err, "audit: scan execution")
		}
		rec.AttemptKind = AttemptKind(kind)
		if endTime.Valid {
			rec.EndTime = endTime.Time
		}
		rec.ErrorMessage = errMsg.String
		rec.InputHash = inputHash.String
		rec.OutputHash = outputHash.String
		if score.Valid {
			rec.QualityScore = &score.Float64
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var priority, requested, completed, failed sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(&sess.ID, &sess.TargetKey, &priority, &requested, &completed, &failed,
		&sess.StartedAt, &endedAt, &sess.Success, &sess.PartialSuccess,
		&sess.TotalTokens, &sess.TotalCostUSD); err != nil {
		return nil, err
	}
	sess.Priority = priority.String
	sess.RequestedModules = splitList(requested.String)
	sess.CompletedModules = splitList(completed.String)
	sess.FailedModules = splitList(failed.String)
	if endedAt.Valid {
		sess.EndedAt = endedAt.Time
	}
	return &sess, nil
}

// Module lists are stored as JSON arrays for portability between drivers.
func joinList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}
