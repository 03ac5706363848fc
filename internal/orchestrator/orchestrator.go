// Package orchestrator is the per-session glue: it implements the gateway
// Handler, routes inbound frames to the intent handlers, runs the heartbeat,
// wires voice adapter callbacks into the engine under the session state lock,
// and emits role-gated snapshots through the session manager.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinsim/voicegate/internal/config"
	"github.com/clinsim/voicegate/internal/cost"
	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/observe"
	"github.com/clinsim/voicegate/internal/persist"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/internal/session"
	"github.com/clinsim/voicegate/internal/toolgate"
	"github.com/clinsim/voicegate/pkg/provider/llm"
	"github.com/clinsim/voicegate/pkg/provider/realtime"
	"github.com/clinsim/voicegate/pkg/provider/stt"
	"github.com/clinsim/voicegate/pkg/provider/tts"
)

// ErrUnknownSession is returned when a frame references a session that has no
// live record.
var ErrUnknownSession = errors.New("orchestrator: unknown session")

// Deps collects the orchestrator's collaborators. STT, TTS, LLM, and Realtime
// may be nil; the corresponding paths then degrade per the error design.
type Deps struct {
	Sessions *session.Manager
	Locks    *session.Locks
	Events   *eventlog.Log
	Store    persist.Store
	Metrics  *observe.Metrics

	STT      stt.Provider
	TTS      tts.Provider
	LLM      llm.Provider
	Realtime realtime.Provider
}

// Orchestrator routes everything behind the gateway. One instance serves all
// sessions; per-session state lives in Runtime records guarded by the session
// state lock.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps
	gate *toolgate.Gate

	mu       sync.Mutex
	runtimes map[string]*Runtime

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

var _ gateway.Handler = (*Orchestrator)(nil)

// New creates an Orchestrator.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		gate:     toolgate.New(),
		runtimes: map[string]*Runtime{},
		now:      time.Now,
	}
}

// runtime returns the session's Runtime, or nil.
func (o *Orchestrator) runtime(sessionID string) *Runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runtimes[sessionID]
}

// SessionCount reports the number of sessions with a live runtime.
func (o *Orchestrator) SessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runtimes)
}

// ── gateway.Handler ───────────────────────────────────────────────────────────

// HandleJoin registers the connection with the session manager and, when the
// session already runs a scenario, sends the joining client its role-gated
// snapshot.
func (o *Orchestrator) HandleJoin(ctx context.Context, c *gateway.Client, msg *gateway.Inbound) error {
	role := session.Role(msg.Role)
	o.deps.Sessions.AddClient(msg.SessionID, role, c)
	o.deps.Metrics.ActiveClients.Add(ctx, 1)

	slog.Info("client joined",
		"session_id", msg.SessionID, "user_id", msg.UserID, "role", msg.Role)
	o.deps.Events.Append(ctx, msg.SessionID, eventlog.Entry{
		Type: "ws.joined",
		Data: map[string]any{"userId": msg.UserID, "role": msg.Role},
	})

	if rt := o.runtime(msg.SessionID); rt != nil {
		lock := o.deps.Locks.Get(msg.SessionID)
		_ = lock.With(ctx, "join.snapshot", func() error {
			return c.SendJSON(o.buildSimState(msg.SessionID, rt, role))
		})
	}
	return nil
}

// HandleMessage dispatches one validated post-join frame.
func (o *Orchestrator) HandleMessage(ctx context.Context, c *gateway.Client, msg *gateway.Inbound) {
	switch msg.Type {
	case gateway.TypeStartSpeaking:
		o.handleStartSpeaking(c, msg)
	case gateway.TypeStopSpeaking:
		o.handleStopSpeaking(c, msg)
	case gateway.TypeSetScenario:
		o.handleSetScenario(ctx, c, msg)
	case gateway.TypeDoctorAudio:
		o.handleDoctorAudio(ctx, c, msg)
	case gateway.TypeVoiceCommand:
		o.handleVoiceCommand(ctx, c, msg)
	case gateway.TypeAnalyzeTranscript:
		o.handleAnalyzeTranscript(ctx, c, msg)
	}
}

// HandleDisconnect removes the connection; the session manager fires the
// empty-session callback when the last one drops.
func (o *Orchestrator) HandleDisconnect(c *gateway.Client) {
	sessionID := c.SessionID()
	userID := c.UserID()
	o.deps.Sessions.RemoveClient(sessionID, c.Role(), c)
	o.deps.Metrics.ActiveClients.Add(context.Background(), -1)

	// The manager released the floor if this was the holder's last
	// connection; tell the room.
	if o.deps.Sessions.Exists(sessionID) && o.deps.Sessions.FloorHolder(sessionID) == "" {
		o.deps.Sessions.BroadcastToSession(sessionID, gateway.ParticipantState{
			Type: gateway.TypeParticipantState, SessionID: sessionID,
			UserID: userID, Speaking: false,
		})
	}
	slog.Info("client disconnected", "session_id", sessionID, "user_id", userID)
}

// HandleAuthDenied records a rejected join for auditing.
func (o *Orchestrator) HandleAuthDenied(sessionID, userID string) {
	o.deps.Events.Append(context.Background(), sessionID, eventlog.Entry{
		Type: "ws.auth.denied",
		Data: map[string]any{"userId": userID},
	})
}

// HandleSessionEmpty is the single teardown point for per-session artefacts:
// Realtime session, heartbeat, runtime record, event ring, state lock. Wired
// as the session manager's onEmpty callback.
func (o *Orchestrator) HandleSessionEmpty(sessionID string) {
	o.mu.Lock()
	rt := o.runtimes[sessionID]
	delete(o.runtimes, sessionID)
	o.mu.Unlock()

	if rt != nil {
		close(rt.stopHeartbeat)
		rt.closeRealtime()
		o.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	o.deps.Events.Drop(sessionID)
	o.deps.Locks.Drop(sessionID)
	slog.Info("session empty, runtime dropped", "session_id", sessionID)
}

// ── Scenario lifecycle ────────────────────────────────────────────────────────

// handleSetScenario builds (or replaces) the session runtime. Presenter only.
func (o *Orchestrator) handleSetScenario(ctx context.Context, c *gateway.Client, msg *gateway.Inbound) {
	if c.Role() != session.RolePresenter {
		_ = c.SendJSON(gateway.NewError("set_scenario requires the presenter role"))
		return
	}
	if _, ok := scenario.Get(msg.ScenarioID); !ok {
		_ = c.SendJSON(gateway.NewError(fmt.Sprintf("unknown scenario %q", msg.ScenarioID)))
		return
	}

	lock := o.deps.Locks.Get(msg.SessionID)
	err := lock.With(ctx, "set_scenario", func() error {
		o.replaceRuntime(ctx, msg.SessionID, msg.ScenarioID)
		return nil
	})
	if err != nil {
		_ = c.SendJSON(gateway.NewError(err.Error()))
		return
	}

	o.deps.Sessions.SetScenarioID(msg.SessionID, msg.ScenarioID)
	o.deps.Sessions.BroadcastToSession(msg.SessionID, gateway.ScenarioChanged{
		Type: gateway.TypeScenarioChanged, SessionID: msg.SessionID, ScenarioID: msg.ScenarioID,
	})
	o.broadcastSimState(msg.SessionID)

	o.deps.Events.Append(ctx, msg.SessionID, eventlog.Entry{
		Type: "scenario.set",
		Data: map[string]any{"scenarioId": msg.ScenarioID, "by": msg.UserID},
	})
}

// replaceRuntime tears down any existing runtime and builds a fresh one for
// scenarioID: engine, cost controller, one-time snapshot hydration, Realtime
// session, heartbeat. Caller holds the state lock.
func (o *Orchestrator) replaceRuntime(ctx context.Context, sessionID, scenarioID string) {
	now := o.now()

	o.mu.Lock()
	if old := o.runtimes[sessionID]; old != nil {
		close(old.stopHeartbeat)
		old.closeRealtime()
		o.deps.Metrics.ActiveSessions.Add(ctx, -1)
	}
	o.mu.Unlock()

	engine, err := scenario.NewByID(scenarioID, now)
	if err != nil {
		// The caller validated the ID; this only happens on a registry bug.
		slog.Error("engine construction failed", "session_id", sessionID, "scenario_id", scenarioID, "err", err)
		return
	}

	rt := newRuntime(engine, o.newCostController(sessionID))
	o.hydrate(ctx, sessionID, scenarioID, rt)

	o.mu.Lock()
	o.runtimes[sessionID] = rt
	o.mu.Unlock()
	o.deps.Metrics.ActiveSessions.Add(ctx, 1)

	o.connectRealtime(ctx, sessionID, rt)
	go o.heartbeatLoop(sessionID, rt)
}

// hydrate performs the one-time snapshot load. A snapshot for a different
// scenario is ignored; the session starts fresh.
func (o *Orchestrator) hydrate(ctx context.Context, sessionID, scenarioID string, rt *Runtime) {
	if o.deps.Store == nil || rt.Hydrated {
		return
	}
	rt.Hydrated = true

	snap, err := o.deps.Store.LoadSnapshot(ctx, sessionID)
	if err != nil {
		slog.Warn("snapshot load failed", "session_id", sessionID, "err", err)
		return
	}
	if snap == nil || snap.ScenarioID != scenarioID {
		return
	}
	rt.Engine.Hydrate(snap.State)
	slog.Info("session hydrated from snapshot",
		"session_id", sessionID, "scenario_id", scenarioID, "saved_at", snap.SavedAt)
}

// newCostController wires the budget callbacks: soft logs an event, hard
// degrades the session to text-only voice and closes Realtime.
func (o *Orchestrator) newCostController(sessionID string) *cost.Controller {
	pricing := cost.Pricing{
		PerThousandInputTokens:  o.cfg.Budget.Pricing.PerThousandInputTokens,
		PerThousandOutputTokens: o.cfg.Budget.Pricing.PerThousandOutputTokens,
		PerAudioSecond:          o.cfg.Budget.Pricing.PerAudioSecond,
	}
	limits := cost.Limits{SoftUSD: o.cfg.Budget.SoftUSD, HardUSD: o.cfg.Budget.HardUSD}

	onSoft := func(usd float64) {
		ctx := context.Background()
		o.deps.Metrics.RecordBudgetEvent(ctx, "soft")
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			Type: "budget.soft_limit", Data: map[string]any{"usd": usd},
		})
	}
	onHard := func(usd float64) {
		ctx := context.Background()
		o.deps.Metrics.RecordBudgetEvent(ctx, "hard")
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			Type: "budget.hard_limit", Data: map[string]any{"usd": usd},
		})
		if rt := o.runtime(sessionID); rt != nil {
			rt.closeRealtime()
		}
		o.deps.Sessions.SetFallback(sessionID, true)
		o.broadcastSimState(sessionID)
	}
	return cost.New(pricing, limits, onSoft, onHard)
}
