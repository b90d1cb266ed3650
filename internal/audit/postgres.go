package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool abstracts the pgx pool operations the store needs, so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "audit: postgres parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "audit: postgres create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "audit: postgres ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	target_key        TEXT NOT NULL,
	priority          TEXT,
	requested_modules TEXT NOT NULL,
	completed_modules TEXT,
	failed_modules    TEXT,
	started_at        TIMESTAMPTZ NOT NULL,
	ended_at          TIMESTAMPTZ,
	success           BOOLEAN NOT NULL DEFAULT FALSE,
	partial_success   BOOLEAN NOT NULL DEFAULT FALSE,
	total_tokens      BIGINT NOT NULL DEFAULT 0,
	total_cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	module_name   TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	attempt_kind  TEXT NOT NULL,
	attempt       INT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ,
	success       BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT,
	input_hash    TEXT,
	output_hash   TEXT,
	quality_score DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_target ON sessions(target_key, started_at);
`

// Migrate creates the audit tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "audit: postgres migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// RecordSessionStart inserts a session row.
func (s *PostgresStore) RecordSessionStart(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, target_key, priority, requested_modules, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.TargetKey, sess.Priority, joinList(sess.RequestedModules), sess.StartedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "audit: insert session")
	}
	return nil
}

// RecordSessionEnd finalizes a session row.
func (s *PostgresStore) RecordSessionEnd(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET completed_modules = $1, failed_modules = $2, ended_at = $3,
		 success = $4, partial_success = $5, total_tokens = $6, total_cost_usd = $7
		 WHERE id = $8`,
		joinList(sess.CompletedModules), joinList(sess.FailedModules), sess.EndedAt.UTC(),
		sess.Success, sess.PartialSuccess, sess.TotalTokens, sess.TotalCostUSD, sess.ID,
	)
	if err != nil {
		return eris.Wrap(err, "audit: update session")
	}
	return nil
}

// RecordExecution appends one execution record.
func (s *PostgresStore) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var endTime any
	if !rec.EndTime.IsZero() {
		endTime = rec.EndTime.UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, session_id, module_name, resource_id, attempt_kind, attempt,
		 start_time, end_time, success, error_message, input_hash, output_hash, quality_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
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
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, target_key, priority, requested_modules, completed_modules, failed_modules,
		 started_at, ended_at, success, partial_success, total_tokens, total_cost_usd
		 FROM sessions WHERE id = $1`, sessionID)

	sess, err := scanPgSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "audit: get session")
	}
	return sess, nil
}

// ListSessions returns sessions matching the filter, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	query := `SELECT id, target_key, priority, requested_modules, completed_modules, failed_modules,
		 started_at, ended_at, success, partial_success, total_tokens, total_cost_usd
		 FROM sessions WHERE ($1 = '' OR target_key = $1) AND ($2::timestamptz IS NULL OR started_at >= $2)
		 ORDER BY started_at DESC LIMIT $3`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var since any
	if !filter.Since.IsZero() {
		since = filter.Since.UTC()
	}

	rows, err := s.pool.Query(ctx, query, filter.TargetKey, since, limit)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "audit: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// ListExecutions returns all execution records for a session in attempt order.
func (s *PostgresStore) ListExecutions(ctx context.Context, sessionID string) ([]ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, module_name, resource_id, attempt_kind, attempt, start_time,
		 end_time, success, error_message, input_hash, output_hash, quality_score
		 FROM executions WHERE session_id = $1 ORDER BY start_time ASC`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list executions")
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var kind string
		var endTime *time.Time
		var errMsg, inputHash, outputHash *string
		var score *float64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ModuleName, &rec.ResourceID, &kind,
			&rec.Attempt, &rec.StartTime, &endTime, &rec.Success, &errMsg, &inputHash,
			&outputHash, &score); err != nil {
			return nil, eris.Wrap(err, "audit: scan execution")
		}
		rec.AttemptKind = AttemptKind(kind)
		if endTime != nil {
			rec.EndTime = *endTime
		}
		if errMsg != nil {
			rec.ErrorMessage = *errMsg
		}
		if inputHash != nil {
			rec.InputHash = *inputHash
		}
		if outputHash != nil {
			rec.OutputHash = *outputHash
		}
		rec.QualityScore = score
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanPgSession(row pgx.Row) (*Session, error) {
	var sess Session
	var priority, requested, completed, failed *string
	var endedAt *time.Time
	if err := row.Scan(&sess.ID, &sess.TargetKey, &priority, &requested, &completed, &failed,
		&sess.StartedAt, &endedAt, &sess.Success, &sess.PartialSuccess,
		&sess.TotalTokens, &sess.TotalCostUSD); err != nil {
		return nil, err
	}
	if priority != nil {
		sess.Priority = *priority
	}
	if requested != nil {
		sess.RequestedModules = splitList(*requested)
	}
	if completed != nil {
		sess.CompletedModules = splitList(*completed)
	}
	if failed != nil {
		sess.FailedModules = splitList(*failed)
	}
	if endedAt != nil {
		sess.EndedAt = *endedAt
	}
	return &sess, nil
}
