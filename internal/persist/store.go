// Package persist stores per-session snapshots and append-only event streams.
// Every write is best-effort from the caller's point of view: failures are
// logged and the session continues in memory.
package persist

import (
	"context"
	"time"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/scenario"
)

// Snapshot is the persisted projection of a session: enough to hydrate a
// fresh engine after a restart.
type Snapshot struct {
	ScenarioID string         `json:"scenarioId"`
	State      scenario.State `json:"state"`
	SavedAt    time.Time      `json:"savedAt"`
}

// Store is the persistence adapter. Implementations must be safe for
// concurrent use. LoadSnapshot returns (nil, nil) when no snapshot exists.
type Store interface {
	SaveSnapshot(ctx context.Context, sessionID string, snap Snapshot) error
	LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
	AppendEvent(ctx context.Context, sessionID string, entry eventlog.Entry) error
	Close()
}
