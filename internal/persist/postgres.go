package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsim/voicegate/internal/eventlog"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS session_snapshots (
    session_id  TEXT         PRIMARY KEY,
    scenario_id TEXT         NOT NULL DEFAULT '',
    state       JSONB        NOT NULL,
    saved_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_events (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL,
    ts         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    type       TEXT         NOT NULL,
    data       JSONB        NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_session_events_session_id
    ON session_events (session_id);

CREATE INDEX IF NOT EXISTS idx_session_events_session_ts
    ON session_events (session_id, ts);
`

// PostgresStore persists snapshots and events in PostgreSQL. All methods are
// safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SaveSnapshot upserts the session's snapshot.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, sessionID string, snap Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("persist: marshal state: %w", err)
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO session_snapshots (session_id, scenario_id, state, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET scenario_id = EXCLUDED.scenario_id,
		    state       = EXCLUDED.state,
		    saved_at    = EXCLUDED.saved_at`

	if _, err := s.pool.Exec(ctx, q, sessionID, snap.ScenarioID, state, snap.SavedAt); err != nil {
		return fmt.Errorf("persist: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the last snapshot for the session, or (nil, nil) when
// none exists.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	const q = `
		SELECT scenario_id, state, saved_at
		FROM   session_snapshots
		WHERE  session_id = $1`

	var (
		snap  Snapshot
		state []byte
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&snap.ScenarioID, &state, &snap.SavedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("persist: load snapshot: %w", err)
	}
	if err := json.Unmarshal(state, &snap.State); err != nil {
		return nil, fmt.Errorf("persist: unmarshal state: %w", err)
	}
	return &snap, nil
}

// AppendEvent appends one entry to the session's event stream.
func (s *PostgresStore) AppendEvent(ctx context.Context, sessionID string, entry eventlog.Entry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("persist: marshal event: %w", err)
	}
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}

	const q = `
		INSERT INTO session_events (session_id, ts, type, data)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, sessionID, entry.TS, entry.Type, data); err != nil {
		return fmt.Errorf("persist: append event: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
