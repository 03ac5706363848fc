// Package session tracks connected endpoints per simulation session, owns the
// single-holder speaking floor, and provides the per-session state lock that
// serialises every mutation of engine state.
//
// The Manager's connection sets and floor holders are the only cross-session
// shared state in the gateway; everything else is strictly per-session.
package session

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Role classifies a connection.
type Role string

const (
	RolePresenter   Role = "presenter"
	RoleParticipant Role = "participant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RolePresenter || r == RoleParticipant
}

// Client is a connected endpoint. Send must be safe for concurrent use and
// may fail without affecting siblings — broadcasts are best-effort.
type Client interface {
	UserID() string
	Send(data []byte) error
}

// FloorResult reports the outcome of a floor request.
type FloorResult struct {
	Granted bool
	// Previous is set when a different user held the floor, so the caller
	// can notify the dispossessed holder.
	Previous string
}

type record struct {
	scenarioID  string
	clients     map[Role]map[Client]struct{}
	floorHolder string
	fallback    bool
}

func (r *record) empty() bool {
	for _, set := range r.clients {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// Manager tracks all live sessions. All exported methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*record
	onEmpty  func(sessionID string)
}

// NewManager creates a Manager. onEmpty fires exactly once when the last
// connection of a session disconnects; it is the single teardown point for
// all per-session artefacts. May be nil.
func NewManager(onEmpty func(sessionID string)) *Manager {
	return &Manager{sessions: map[string]*record{}, onEmpty: onEmpty}
}

// AddClient inserts conn into the session's role set, establishing the
// session record on first join.
func (m *Manager) AddClient(sessionID string, role Role, c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.sessions[sessionID]
	if !ok {
		r = &record{clients: map[Role]map[Client]struct{}{}}
		m.sessions[sessionID] = r
	}
	set, ok := r.clients[role]
	if !ok {
		set = map[Client]struct{}{}
		r.clients[role] = set
	}
	set[c] = struct{}{}
}

// RemoveClient removes conn. Removing the floor holder's last connection
// releases the floor. When both role sets drain, the session record is
// deleted and onEmpty fires once.
func (m *Manager) RemoveClient(sessionID string, role Role, c Client) {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(r.clients[role], c)

	if r.floorHolder != "" && r.floorHolder == c.UserID() && !m.userConnectedLocked(r, c.UserID()) {
		r.floorHolder = ""
	}

	var fireEmpty bool
	if r.empty() {
		delete(m.sessions, sessionID)
		fireEmpty = true
	}
	onEmpty := m.onEmpty
	m.mu.Unlock()

	if fireEmpty && onEmpty != nil {
		onEmpty(sessionID)
	}
}

func (m *Manager) userConnectedLocked(r *record, userID string) bool {
	for _, set := range r.clients {
		for c := range set {
			if c.UserID() == userID {
				return true
			}
		}
	}
	return false
}

// ── Broadcast ─────────────────────────────────────────────────────────────────

// BroadcastToSession serialises msg once and sends it to every connection in
// the session. Failed sends are tolerated and do not affect siblings.
func (m *Manager) BroadcastToSession(sessionID string, msg any) {
	m.broadcast(sessionID, msg, RolePresenter, RoleParticipant)
}

// BroadcastToPresenters sends msg to presenter connections only.
func (m *Manager) BroadcastToPresenters(sessionID string, msg any) {
	m.broadcast(sessionID, msg, RolePresenter)
}

// BroadcastToParticipants sends msg to participant connections only.
func (m *Manager) BroadcastToParticipants(sessionID string, msg any) {
	m.broadcast(sessionID, msg, RoleParticipant)
}

func (m *Manager) broadcast(sessionID string, msg any, roles ...Role) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("session: broadcast marshal failed", "session_id", sessionID, "err", err)
		return
	}

	// Snapshot the targets so sends run outside the lock and connection
	// mutation during iteration cannot occur.
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	var targets []Client
	for _, role := range roles {
		for c := range r.clients[role] {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(data); err != nil {
			slog.Debug("session: dropped send", "session_id", sessionID, "user_id", c.UserID(), "err", err)
		}
	}
}

// ── Speaking floor ────────────────────────────────────────────────────────────

// RequestFloor grants the floor when it is unheld or already held by userID.
// First writer wins; a losing concurrent request learns the holder via
// Previous being empty and Granted false.
func (m *Manager) RequestFloor(sessionID, userID string) FloorResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.sessions[sessionID]
	if !ok {
		return FloorResult{}
	}
	switch r.floorHolder {
	case "", userID:
		r.floorHolder = userID
		return FloorResult{Granted: true}
	default:
		return FloorResult{Granted: false, Previous: r.floorHolder}
	}
}

// ReleaseFloor releases the floor only when userID holds it. Idempotent:
// releasing an unheld floor returns false without side effects.
func (m *Manager) ReleaseFloor(sessionID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.sessions[sessionID]
	if !ok || r.floorHolder != userID {
		return false
	}
	r.floorHolder = ""
	return true
}

// FloorHolder returns the current holder, or "".
func (m *Manager) FloorHolder(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.sessions[sessionID]; ok {
		return r.floorHolder
	}
	return ""
}

// ── Session-scoped flags ──────────────────────────────────────────────────────

// SetFallback flips the session's text-only voice flag.
func (m *Manager) SetFallback(sessionID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.sessions[sessionID]; ok {
		r.fallback = on
	}
}

// IsFallback reports whether the session is in text-only voice mode.
func (m *Manager) IsFallback(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.sessions[sessionID]; ok {
		return r.fallback
	}
	return false
}

// SetScenarioID records the active scenario for the session.
func (m *Manager) SetScenarioID(sessionID, scenarioID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.sessions[sessionID]; ok {
		r.scenarioID = scenarioID
	}
}

// ScenarioID returns the active scenario, or "".
func (m *Manager) ScenarioID(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.sessions[sessionID]; ok {
		return r.scenarioID
	}
	return ""
}

// Exists reports whether the session has a live record.
func (m *Manager) Exists(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// ClientCount returns the number of live connections in the session.
func (m *Manager) ClientCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.sessions[sessionID]
	if !ok {
		return 0
	}
	n := 0
	for _, set := range r.clients {
		n += len(set)
	}
	return n
}
