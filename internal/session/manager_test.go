package session

import (
	"errors"
	"sync"
	"testing"
)

// fakeClient records everything sent to it.
type fakeClient struct {
	userID string

	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func (c *fakeClient) UserID() string { return c.userID }

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errSendFailed
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeClient) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

var errSendFailed = errors.New("send failed")

func TestAddRemoveClient_OnEmptyFiresOnce(t *testing.T) {
	var emptied []string
	m := NewManager(func(id string) { emptied = append(emptied, id) })

	a := &fakeClient{userID: "u1"}
	b := &fakeClient{userID: "u2"}
	m.AddClient("s1", RolePresenter, a)
	m.AddClient("s1", RoleParticipant, b)

	if got := m.ClientCount("s1"); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}

	m.RemoveClient("s1", RolePresenter, a)
	if len(emptied) != 0 {
		t.Fatalf("onEmpty fired with a client still connected")
	}
	m.RemoveClient("s1", RoleParticipant, b)
	if len(emptied) != 1 || emptied[0] != "s1" {
		t.Fatalf("onEmpty = %v, want exactly one fire for s1", emptied)
	}
	if m.Exists("s1") {
		t.Errorf("session record survived the last disconnect")
	}

	// Removing from a dead session is a no-op.
	m.RemoveClient("s1", RoleParticipant, b)
	if len(emptied) != 1 {
		t.Errorf("onEmpty fired again on redundant removal")
	}
}

func TestBroadcast_RoleTargeting(t *testing.T) {
	m := NewManager(nil)
	pres := &fakeClient{userID: "p"}
	part := &fakeClient{userID: "d"}
	m.AddClient("s1", RolePresenter, pres)
	m.AddClient("s1", RoleParticipant, part)

	m.BroadcastToSession("s1", map[string]string{"type": "x"})
	m.BroadcastToPresenters("s1", map[string]string{"type": "y"})
	m.BroadcastToParticipants("s1", map[string]string{"type": "z"})

	if got := pres.sentCount(); got != 2 {
		t.Errorf("presenter received %d messages, want 2", got)
	}
	if got := part.sentCount(); got != 2 {
		t.Errorf("participant received %d messages, want 2", got)
	}
}

func TestBroadcast_FailedSendDoesNotAffectSiblings(t *testing.T) {
	m := NewManager(nil)
	bad := &fakeClient{userID: "bad", fail: true}
	good := &fakeClient{userID: "good"}
	m.AddClient("s1", RoleParticipant, bad)
	m.AddClient("s1", RoleParticipant, good)

	m.BroadcastToSession("s1", map[string]string{"type": "x"})

	if got := good.sentCount(); got != 1 {
		t.Errorf("healthy sibling received %d messages, want 1", got)
	}
}

func TestRequestFloor_FirstWriterWins(t *testing.T) {
	m := NewManager(nil)
	m.AddClient("s1", RoleParticipant, &fakeClient{userID: "u1"})

	if res := m.RequestFloor("s1", "u1"); !res.Granted {
		t.Fatalf("first request denied")
	}
	res := m.RequestFloor("s1", "u2")
	if res.Granted {
		t.Fatalf("second requester granted while floor held")
	}
	if res.Previous != "u1" {
		t.Errorf("Previous = %q, want u1", res.Previous)
	}

	// Re-request by the holder is idempotent.
	if res := m.RequestFloor("s1", "u1"); !res.Granted {
		t.Errorf("holder re-request denied")
	}
}

func TestReleaseFloor_OnlyHolderReleases(t *testing.T) {
	m := NewManager(nil)
	m.AddClient("s1", RoleParticipant, &fakeClient{userID: "u1"})
	m.RequestFloor("s1", "u1")

	if m.ReleaseFloor("s1", "u2") {
		t.Errorf("non-holder released the floor")
	}
	if !m.ReleaseFloor("s1", "u1") {
		t.Errorf("holder could not release")
	}
	if m.ReleaseFloor("s1", "u1") {
		t.Errorf("double release reported success")
	}
	if got := m.FloorHolder("s1"); got != "" {
		t.Errorf("FloorHolder = %q after release, want empty", got)
	}
}

func TestRemoveClient_LastConnectionReleasesFloor(t *testing.T) {
	m := NewManager(func(string) {})
	c1 := &fakeClient{userID: "u1"}
	c2 := &fakeClient{userID: "u1"}
	other := &fakeClient{userID: "u2"}
	m.AddClient("s1", RoleParticipant, c1)
	m.AddClient("s1", RoleParticipant, c2)
	m.AddClient("s1", RoleParticipant, other)
	m.RequestFloor("s1", "u1")

	// One of two connections drops: the user is still here, floor held.
	m.RemoveClient("s1", RoleParticipant, c1)
	if got := m.FloorHolder("s1"); got != "u1" {
		t.Fatalf("floor lost while holder still connected, holder = %q", got)
	}

	m.RemoveClient("s1", RoleParticipant, c2)
	if got := m.FloorHolder("s1"); got != "" {
		t.Errorf("floor not released on holder's last disconnect, holder = %q", got)
	}
}

func TestSessionFlags(t *testing.T) {
	m := NewManager(nil)
	m.AddClient("s1", RolePresenter, &fakeClient{userID: "p"})

	if m.IsFallback("s1") {
		t.Errorf("fresh session reports fallback")
	}
	m.SetFallback("s1", true)
	if !m.IsFallback("s1") {
		t.Errorf("fallback flag did not stick")
	}

	m.SetScenarioID("s1", "child_asthma_v1")
	if got := m.ScenarioID("s1"); got != "child_asthma_v1" {
		t.Errorf("ScenarioID = %q", got)
	}

	// Flags on unknown sessions are inert.
	m.SetFallback("nope", true)
	if m.IsFallback("nope") {
		t.Errorf("unknown session reports fallback")
	}
}
