package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clinsim/voicegate/internal/cost"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/pkg/provider/realtime"
)

// pendingCompletion is an order awaiting its deterministic result. The
// heartbeat completes due entries in (DueAt, order ID) order.
type pendingCompletion struct {
	OrderID int
	Type    scenario.OrderType
	DueAt   time.Time
}

// lastUtterance remembers the most recent doctor utterance for duplicate
// suppression in the auto-reply guard.
type lastUtterance struct {
	Text string
	At   time.Time
}

// Runtime is the consolidated per-session record: the engine, its guards, the
// optional Realtime session, and every piece of per-session bookkeeping that
// the session-empty callback must clear. All fields are owned by the session
// state lock; only the cost controller is internally synchronised.
type Runtime struct {
	Engine *scenario.Engine
	Cost   *cost.Controller

	// RT is the live Realtime session, nil when unconnected or degraded.
	RT realtime.SessionHandle

	// CorrelationID is created lazily and reused across voice errors so a
	// session's degraded-mode notices can be traced together.
	CorrelationID string

	// Hydrated marks that the one-time snapshot load already ran.
	Hydrated bool

	// VoiceFallback is set after an exhausted adapter retry; the session
	// stays text-only until explicitly reset.
	VoiceFallback bool

	// PausedAI gates the voice path without touching the scenario clock.
	PausedAI bool

	// Frozen additionally stops the scenario clock on complex scenarios.
	Frozen bool

	// Muted users' doctor_audio is dropped before the voice path.
	Muted map[string]bool

	// PendingCompletions are submitted orders waiting for their ETA.
	PendingCompletions []pendingCompletion

	// Auto-reply guard bookkeeping.
	LastAutoReplyAt     time.Time
	LastUserAutoReplyAt map[string]time.Time
	LastDoctorUtterance lastUtterance

	// LastOrderAt drives the per-type debounce window against voice
	// double-utterances.
	LastOrderAt map[scenario.OrderType]time.Time

	// AlarmSeenAt holds the active edge-triggered alarms; an entry is
	// removed when its condition clears, re-arming the alarm.
	AlarmSeenAt map[string]time.Time

	// patientSpeaking debounces the speaking patient_state announcement
	// across streamed Realtime audio chunks. Atomic because the Realtime
	// event callbacks run off the state lock.
	patientSpeaking atomic.Bool

	stopHeartbeat chan struct{}
}

func newRuntime(engine *scenario.Engine, c *cost.Controller) *Runtime {
	return &Runtime{
		Engine:              engine,
		Cost:                c,
		Muted:               map[string]bool{},
		LastUserAutoReplyAt: map[string]time.Time{},
		LastOrderAt:         map[scenario.OrderType]time.Time{},
		AlarmSeenAt:         map[string]time.Time{},
		stopHeartbeat:       make(chan struct{}),
	}
}

// Correlation returns the session correlation ID, creating it on first use.
func (r *Runtime) Correlation() string {
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	return r.CorrelationID
}

// closeRealtime closes and detaches the Realtime session, if any.
func (r *Runtime) closeRealtime() {
	if r.RT != nil {
		_ = r.RT.Close()
		r.RT = nil
	}
}
