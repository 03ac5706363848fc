package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Lock acquisition bounds.
const (
	// AcquireTimeout is the hard cap on waiting for the state lock.
	AcquireTimeout = 5 * time.Second

	// contentionWarnAfter triggers a warning log when a critical section
	// waited longer than this to start.
	contentionWarnAfter = 100 * time.Millisecond
)

// ErrLockTimeout is returned when the state lock could not be acquired
// within AcquireTimeout. The waiting operation is aborted; state is never
// partially mutated.
var ErrLockTimeout = errors.New("session: state lock timeout")

// Lock is the per-session async mutex serialising mutations from inbound
// handlers, the heartbeat tick, adapter callbacks, and scheduled decay fires.
type Lock struct {
	sem chan struct{}
}

// NewLock creates an unheld Lock.
func NewLock() *Lock {
	return &Lock{sem: make(chan struct{}, 1)}
}

// With runs fn while holding the lock. op names the critical section for
// contention logging. Acquisition is bounded by AcquireTimeout and by ctx.
func (l *Lock) With(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-time.After(AcquireTimeout):
		slog.Error("state lock acquisition timed out", "operation", op)
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	if waited := time.Since(start); waited > contentionWarnAfter {
		slog.Warn("state lock contention", "operation", op, "waited", waited)
	}
	defer func() { <-l.sem }()
	return fn()
}

// TryWith runs fn only if the lock is immediately available, returning false
// otherwise. Used for best-effort low-priority work such as the heartbeat
// broadcast when a handler is in flight.
func (l *Lock) TryWith(op string, fn func() error) bool {
	select {
	case l.sem <- struct{}{}:
	default:
		slog.Debug("state lock busy, skipping", "operation", op)
		return false
	}
	defer func() { <-l.sem }()
	if err := fn(); err != nil {
		slog.Warn("best-effort critical section failed", "operation", op, "err", err)
	}
	return true
}

// Locks is a registry of per-session state locks.
type Locks struct {
	mu sync.Mutex
	m  map[string]*Lock
}

// NewLocks creates an empty registry.
func NewLocks() *Locks {
	return &Locks{m: map[string]*Lock{}}
}

// Get returns the session's lock, creating it on first use.
func (ls *Locks) Get(sessionID string) *Lock {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	l, ok := ls.m[sessionID]
	if !ok {
		l = NewLock()
		ls.m[sessionID] = l
	}
	return l
}

// Drop discards the session's lock. Called from the session-empty cleanup.
func (ls *Locks) Drop(sessionID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.m, sessionID)
}
