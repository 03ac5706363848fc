package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/internal/session"
)

// decodePayload maps a voice_command payload onto a typed request via a JSON
// round-trip, so payload field names match the wire tags.
func decodePayload(payload map[string]any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("orchestrator: encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("orchestrator: decode payload: %w", err)
	}
	return nil
}

// handleVoiceCommand dispatches one voice_command frame under the session
// state lock.
func (o *Orchestrator) handleVoiceCommand(ctx context.Context, c *gateway.Client, msg *gateway.Inbound) {
	rt := o.runtime(msg.SessionID)
	if rt == nil {
		_ = c.SendJSON(gateway.NewError("no active scenario"))
		return
	}

	lock := o.deps.Locks.Get(msg.SessionID)
	err := lock.With(ctx, "command."+msg.CommandType, func() error {
		switch msg.CommandType {
		case gateway.CmdOrder:
			var req scenario.OrderRequest
			if err := decodePayload(msg.Payload, &req); err != nil {
				return err
			}
			if req.OrderedBy == "" {
				req.OrderedBy = msg.UserID
			}
			o.submitOrder(ctx, msg.SessionID, rt, req)

		case gateway.CmdExam:
			o.handleExamCommand(ctx, msg.SessionID, rt, msg.Payload)

		case gateway.CmdToggleTelemetry:
			o.handleToggleTelemetry(ctx, msg.SessionID, rt)

		case gateway.CmdTreatment:
			var req scenario.TreatmentRequest
			if err := decodePayload(msg.Payload, &req); err != nil {
				return err
			}
			o.handleTreatment(ctx, msg.SessionID, rt, req)

		case gateway.CmdShowEKG:
			o.handleShowEKG(msg.SessionID, rt)

		case gateway.CmdForceReply:
			o.handleForceReply(ctx, msg.SessionID, rt, msg.Character, msg.Payload)

		case gateway.CmdEndTurn:
			o.handleEndTurn(msg.SessionID, rt, msg.UserID)

		case gateway.CmdMuteUser:
			return o.handleMuteUser(ctx, c, msg.SessionID, rt, msg.Payload)

		case gateway.CmdPauseAI:
			o.handlePause(ctx, msg.SessionID, rt, false)

		case gateway.CmdResumeAI:
			o.handleResume(ctx, msg.SessionID, rt, false)

		case gateway.CmdFreeze:
			o.handlePause(ctx, msg.SessionID, rt, true)

		case gateway.CmdUnfreeze:
			o.handleResume(ctx, msg.SessionID, rt, true)

		case gateway.CmdSkipStage:
			o.handleSkipStage(ctx, c, msg.SessionID, rt, msg.Payload)

		case gateway.CmdScenarioEvent:
			o.handleScenarioEvent(ctx, c, msg.SessionID, rt, msg.Payload)
		}
		return nil
	})
	if err != nil {
		_ = c.SendJSON(gateway.NewError(err.Error()))
		return
	}

	o.broadcastSimState(msg.SessionID)
}

// handleExamCommand reveals exam content immediately (no ETA) and reads the
// findings back on the nurse channel.
func (o *Orchestrator) handleExamCommand(ctx context.Context, sessionID string, rt *Runtime, payload map[string]any) {
	var req struct {
		ExamType string `json:"examType"`
	}
	if err := decodePayload(payload, &req); err != nil {
		return
	}

	now := o.now()
	o.revealExam(rt, now)
	exam := rt.Engine.State().Exam

	var line string
	var orderType scenario.OrderType
	switch req.ExamType {
	case "cardiac":
		line, orderType = exam.Cardio, scenario.OrderCardiacExam
	case "lungs":
		line, orderType = exam.Lungs, scenario.OrderLungExam
	case "general":
		line, orderType = exam.General, scenario.OrderGeneralExam
	default:
		return
	}

	// Record the exam as an instantly-completed order so role gating unlocks
	// the corresponding exam content for participants.
	intent := scenario.ToolIntent{Type: scenario.IntentSubmitOrder,
		Order: &scenario.OrderRequest{Type: orderType}}
	if o.applyIntent(ctx, sessionID, rt, intent, nil) {
		if ord, ok := rt.Engine.PendingOrder(orderType); ok {
			rt.Engine.CompleteOrder(ord.ID, line, now)
		}
	}

	o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
		Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
		Text: line, Character: "nurse",
	})
	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
		TS: now, Type: "exam.performed", Data: map[string]any{"examType": req.ExamType},
	})
}

// handleToggleTelemetry flips monitoring, synthesizes a fresh waveform on
// enable, and marks the monitor intervention.
func (o *Orchestrator) handleToggleTelemetry(ctx context.Context, sessionID string, rt *Runtime) {
	now := o.now()
	st := rt.Engine.State()
	on := !st.Telemetry

	if on {
		st.Interventions.Monitor = true
		rt.Engine.SetRhythm(rt.Engine.DynamicRhythm())
		if ext := st.Extended; ext != nil && ext.SVT != nil {
			ext.SVT.RecordMonitorOn(now)
		}
	}
	rt.Engine.SetTelemetry(on, now)

	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
		TS: now, Type: "telemetry.toggled", Data: map[string]any{"on": on},
	})
	o.appendEngineEvents(ctx, sessionID, rt.Engine.EvaluateAutomaticTransitions(now, nil))
}

// handleShowEKG surfaces the most recent completed EKG result; with telemetry
// on it also refreshes the waveform via the subsequent sim_state broadcast.
func (o *Orchestrator) handleShowEKG(sessionID string, rt *Runtime) {
	snap := rt.Engine.Snapshot()
	if n := len(snap.EKGHistory); n > 0 {
		o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
			Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
			Text: "Pulling up the EKG: " + snap.EKGHistory[n-1].Summary, Character: "tech",
		})
		return
	}
	o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
		Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
		Text: "No EKG on file yet — want me to run one?", Character: "tech",
	})
}

// handleEndTurn closes the speaker's utterance: commit any buffered audio so
// the model responds, and release the floor.
func (o *Orchestrator) handleEndTurn(sessionID string, rt *Runtime, userID string) {
	if rt.RT != nil {
		_ = rt.RT.CommitAudio()
	}
	if o.deps.Sessions.ReleaseFloor(sessionID, userID) {
		o.deps.Sessions.BroadcastToSession(sessionID, gateway.ParticipantState{
			Type: gateway.TypeParticipantState, SessionID: sessionID,
			UserID: userID, Speaking: false,
		})
	}
}

// handleMuteUser toggles a user's mute flag. Presenter only.
func (o *Orchestrator) handleMuteUser(ctx context.Context, c *gateway.Client, sessionID string, rt *Runtime, payload map[string]any) error {
	if c.Role() != session.RolePresenter {
		return fmt.Errorf("orchestrator: mute_user requires the presenter role")
	}
	var req struct {
		UserID string `json:"userId"`
		Muted  *bool  `json:"muted"`
	}
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	if req.UserID == "" {
		return fmt.Errorf("orchestrator: mute_user requires userId")
	}

	muted := !rt.Muted[req.UserID]
	if req.Muted != nil {
		muted = *req.Muted
	}
	rt.Muted[req.UserID] = muted

	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
		Type: "user.muted", Data: map[string]any{"userId": req.UserID, "muted": muted},
	})
	return nil
}

// handlePause gates the voice path; freeze additionally stops the scenario
// clock on complex scenarios.
func (o *Orchestrator) handlePause(ctx context.Context, sessionID string, rt *Runtime, freeze bool) {
	now := o.now()
	rt.PausedAI = true
	o.deps.Sessions.SetFallback(sessionID, true)

	eventType := "ai.paused"
	if freeze {
		rt.Frozen = true
		eventType = "scenario.frozen"
		if ext := rt.Engine.State().Extended; ext != nil {
			switch {
			case ext.SVT != nil:
				ext.SVT.Pause(now)
			case ext.Myocarditis != nil:
				ext.Myocarditis.Pause(now)
			}
		}
	}
	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{TS: now, Type: eventType})
}

// handleResume lifts the pause. A crossed hard budget blocks it and emits
// budget.resume_blocked with no state change.
func (o *Orchestrator) handleResume(ctx context.Context, sessionID string, rt *Runtime, unfreeze bool) {
	now := o.now()
	if rt.Cost.OverHardLimit() {
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			TS: now, Type: "budget.resume_blocked",
			Data: map[string]any{"usd": rt.Cost.EstimateUSD()},
		})
		return
	}

	rt.PausedAI = false
	o.deps.Sessions.SetFallback(sessionID, false)

	eventType := "ai.resumed"
	if unfreeze {
		rt.Frozen = false
		eventType = "scenario.unfrozen"
		if ext := rt.Engine.State().Extended; ext != nil {
			switch {
			case ext.SVT != nil:
				ext.SVT.Resume(now)
			case ext.Myocarditis != nil:
				ext.Myocarditis.Resume(now)
			}
		}
	}
	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{TS: now, Type: eventType})
}

// handleSkipStage forces a stage transition without predicate checks.
// Presenter only.
func (o *Orchestrator) handleSkipStage(ctx context.Context, c *gateway.Client, sessionID string, rt *Runtime, payload map[string]any) {
	if c.Role() != session.RolePresenter {
		_ = c.SendJSON(gateway.NewError("skip_stage requires the presenter role"))
		return
	}
	var req struct {
		StageID string `json:"stageId"`
	}
	if err := decodePayload(payload, &req); err != nil || req.StageID == "" {
		_ = c.SendJSON(gateway.NewError("skip_stage requires stageId"))
		return
	}

	now := o.now()
	events := rt.Engine.ApplyIntent(scenario.ToolIntent{
		Type: scenario.IntentSetStage, StageID: req.StageID,
	}, now)
	o.appendEngineEvents(ctx, sessionID, events)
}
