package persist

import (
	"context"
	"sync"

	"github.com/clinsim/voicegate/internal/eventlog"
)

// MemoryStore keeps snapshots and events in process memory. It is the default
// when no database is configured, and the store tests exercise against.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
	events    map[string][]eventlog.Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: map[string]Snapshot{},
		events:    map[string][]eventlog.Entry{},
	}
}

// SaveSnapshot replaces the session's snapshot.
func (s *MemoryStore) SaveSnapshot(_ context.Context, sessionID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sessionID] = snap
	return nil
}

// LoadSnapshot returns the last snapshot, or (nil, nil).
func (s *MemoryStore) LoadSnapshot(_ context.Context, sessionID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// AppendEvent appends to the session's event stream.
func (s *MemoryStore) AppendEvent(_ context.Context, sessionID string, entry eventlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], entry)
	return nil
}

// Events returns a copy of the session's event stream.
func (s *MemoryStore) Events(sessionID string) []eventlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventlog.Entry, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() {}
