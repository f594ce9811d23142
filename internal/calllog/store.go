// Package calllog persists finished call records to PostgreSQL.
package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arveliot/voxwire/pkg/transcript"
)

// Record is one finished call.
type Record struct {
	SessionID  string
	AgentID    string
	Mode       string
	Transcript []transcript.Message
	Duration   time.Duration
	StartedAt  time.Time
}

// Store writes call records through a pgx connection pool. Safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL, verifies the connection and ensures the
// call_logs table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the call_logs table if it does not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS call_logs (
    id               BIGSERIAL PRIMARY KEY,
    session_id       TEXT NOT NULL,
    agent_id         TEXT NOT NULL DEFAULT '',
    mode             TEXT NOT NULL,
    transcript       JSONB NOT NULL DEFAULT '[]',
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS call_logs_session_id_idx ON call_logs (session_id);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("calllog: ensure schema: %w", err)
	}
	return nil
}

// Save inserts one call record.
func (s *Store) Save(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("calllog: marshal transcript: %w", err)
	}

	const q = `
INSERT INTO call_logs (session_id, agent_id, mode, transcript, duration_seconds, started_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err = s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.AgentID,
		rec.Mode,
		body,
		int(rec.Duration.Seconds()),
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("calllog: insert: %w", err)
	}
	return nil
}

// Recent returns the most recent n call records, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	const q = `
SELECT session_id, agent_id, mode, transcript, duration_seconds, started_at
FROM call_logs
ORDER BY id DESC
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("calllog: query recent: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec  Record
			body []byte
			secs int
		)
		if err := rows.Scan(&rec.SessionID, &rec.AgentID, &rec.Mode, &body, &secs, &rec.StartedAt); err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		if err := json.Unmarshal(body, &rec.Transcript); err != nil {
			return nil, fmt.Errorf("calllog: decode transcript: %w", err)
		}
		rec.Duration = time.Duration(secs) * time.Second
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: iterate: %w", err)
	}
	return records, nil
}

// Ping verifies the database connection. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
