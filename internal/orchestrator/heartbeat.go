package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/persist"
	"github.com/clinsim/voicegate/internal/scenario"
)

// Alarm IDs. Edge-triggered: each fires once and re-arms when its condition
// clears.
const (
	alarmSpO2Low = "spo2_low"
	alarmHRHigh  = "hr_high"
	alarmHRLow   = "hr_low"
)

const spO2AlarmThreshold = 90

// heartbeatLoop is the session's clock: it advances the engine, completes due
// orders, raises monitor alarms, pushes the periodic snapshot broadcast, and
// saves state. One goroutine per runtime; exits on session teardown.
func (o *Orchestrator) heartbeatLoop(sessionID string, rt *Runtime) {
	interval := time.Duration(o.cfg.Server.HeartbeatMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.stopHeartbeat:
			return
		case <-ticker.C:
			o.heartbeatTick(sessionID, rt)
		}
	}
}

// heartbeatTick runs one beat under the state lock. A beat that loses the
// lock to a long-running handler is skipped; the next one catches up because
// all engine effects key off absolute time.
func (o *Orchestrator) heartbeatTick(sessionID string, rt *Runtime) {
	ctx := context.Background()
	lock := o.deps.Locks.Get(sessionID)
	acquired := lock.TryWith("heartbeat", func() error {
		now := o.now()

		if !rt.Frozen {
			if narration := rt.Engine.PhaseTick(now); narration != "" {
				o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
					Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
					Text: narration, Character: "nurse",
				})
			}
			o.completeDueOrders(ctx, sessionID, rt, now)
			o.appendEngineEvents(ctx, sessionID, rt.Engine.Tick(now))
			o.checkAlarms(ctx, sessionID, rt, now)
		}

		o.broadcastSimStateLocked(sessionID, rt)
		o.saveSnapshot(ctx, sessionID, rt, now)
		return nil
	})
	if !acquired {
		slog.Debug("heartbeat skipped, lock busy", "session_id", sessionID)
	}
}

// checkAlarms raises monitor alarms on threshold crossings. Silent without
// telemetry: nobody is watching the monitor.
func (o *Orchestrator) checkAlarms(ctx context.Context, sessionID string, rt *Runtime, now time.Time) {
	st := rt.Engine.State()
	if !st.Telemetry {
		return
	}
	low, high := scenario.HRThresholds(rt.Engine.Demographics().AgeGroup)

	o.evalAlarm(ctx, sessionID, rt, now, alarmSpO2Low,
		st.Vitals.SpO2 > 0 && st.Vitals.SpO2 < spO2AlarmThreshold,
		fmt.Sprintf("Sat alarm — SpO2 is %d%%.", st.Vitals.SpO2))
	o.evalAlarm(ctx, sessionID, rt, now, alarmHRHigh,
		st.Vitals.HR > high,
		fmt.Sprintf("Heart rate alarm — HR is %d.", st.Vitals.HR))
	o.evalAlarm(ctx, sessionID, rt, now, alarmHRLow,
		st.Vitals.HR > 0 && st.Vitals.HR < low,
		fmt.Sprintf("Bradycardia alarm — HR is down to %d.", st.Vitals.HR))
}

// evalAlarm fires one alarm on its rising edge and re-arms it when the
// condition clears.
func (o *Orchestrator) evalAlarm(ctx context.Context, sessionID string, rt *Runtime, now time.Time, id string, active bool, line string) {
	_, seen := rt.AlarmSeenAt[id]
	switch {
	case active && !seen:
		rt.AlarmSeenAt[id] = now
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			TS: now, Type: "alarm." + id,
		})
		o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
			Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
			Text: line, Character: "nurse",
		})
	case !active && seen:
		delete(rt.AlarmSeenAt, id)
	}
}

// saveSnapshot persists the session state, best-effort.
func (o *Orchestrator) saveSnapshot(ctx context.Context, sessionID string, rt *Runtime, now time.Time) {
	if o.deps.Store == nil {
		return
	}
	snap := persist.Snapshot{
		ScenarioID: rt.Engine.Definition().ID,
		State:      rt.Engine.Snapshot(),
		SavedAt:    now,
	}
	if err := o.deps.Store.SaveSnapshot(ctx, sessionID, snap); err != nil {
		slog.Warn("snapshot save failed", "session_id", sessionID, "err", err)
	}
}
