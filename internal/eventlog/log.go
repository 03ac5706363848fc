// Package eventlog keeps a bounded in-memory ring of per-session events for
// tracing, and forwards each append to the persistence adapter best-effort.
// Every accepted tool intent, state diff, voice error, and budget event flows
// through here.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultCapacity is the per-session ring size.
const defaultCapacity = 256

// Entry is one logged event.
type Entry struct {
	TS   time.Time      `json:"ts"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Forwarder receives every appended entry, typically the persistence
// adapter. Failures are logged and swallowed.
type Forwarder interface {
	AppendEvent(ctx context.Context, sessionID string, entry Entry) error
}

// Log is the multi-session event ring. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	capacity int
	rings    map[string]*ring
	fwd      Forwarder
}

type ring struct {
	buf   []Entry
	next  int
	count int
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity overrides the per-session ring capacity. Default 256.
func WithCapacity(n int) Option {
	return func(l *Log) { l.capacity = n }
}

// WithForwarder sets the persistence forwarder.
func WithForwarder(f Forwarder) Option {
	return func(l *Log) { l.fwd = f }
}

// New creates a Log.
func New(opts ...Option) *Log {
	l := &Log{capacity: defaultCapacity, rings: map[string]*ring{}}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append records an entry for the session and forwards it best-effort.
func (l *Log) Append(ctx context.Context, sessionID string, entry Entry) {
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}

	l.mu.Lock()
	r, ok := l.rings[sessionID]
	if !ok {
		r = &ring{buf: make([]Entry, l.capacity)}
		l.rings[sessionID] = r
	}
	r.buf[r.next] = entry
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	fwd := l.fwd
	l.mu.Unlock()

	if fwd != nil {
		if err := fwd.AppendEvent(ctx, sessionID, entry); err != nil {
			slog.Warn("eventlog: forward failed", "session_id", sessionID, "type", entry.Type, "err", err)
		}
	}
}

// Recent returns up to n most recent entries for the session, oldest first.
func (l *Log) Recent(sessionID string, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.rings[sessionID]
	if !ok || r.count == 0 {
		return nil
	}
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Entry, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Drop discards the session's ring. Called from the session-empty cleanup.
func (l *Log) Drop(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rings, sessionID)
}
