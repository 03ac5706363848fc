package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/internal/session"
)

// emptyObject renders as {} for gated fields so clients always receive the
// key with a stable shape.
type emptyObject struct{}

func (emptyObject) MarshalJSON() ([]byte, error) { return []byte("{}"), nil }

// buildSimState projects the engine state into a role-gated sim_state.
// Participants see vitals, rhythm, and exam content only once the matching
// orders completed (or telemetry is on); presenters see everything. Caller
// holds the state lock.
func (o *Orchestrator) buildSimState(sessionID string, rt *Runtime, role session.Role) gateway.SimState {
	snap := rt.Engine.Snapshot()
	presenter := role == session.RolePresenter

	vitalsVisible := presenter || snap.Telemetry || rt.Engine.HasCompletedOrder(scenario.OrderVitals)
	rhythmVisible := presenter || snap.Telemetry || rt.Engine.HasCompletedOrder(scenario.OrderEKG)

	msg := gateway.SimState{
		Type:             gateway.TypeSimState,
		SessionID:        sessionID,
		StageID:          snap.StageID,
		ScenarioID:       snap.ScenarioID,
		Interventions:    snap.Interventions,
		Telemetry:        snap.Telemetry,
		Findings:         sortedFindings(snap.Findings),
		Orders:           snap.Orders,
		TreatmentHistory: snap.TreatmentHistory,
		ElapsedSeconds:   snap.ElapsedSeconds,
		Fallback:         o.deps.Sessions.IsFallback(sessionID),
		VoiceFallback:    rt.VoiceFallback,
		CorrelationID:    rt.Correlation(),
	}
	if msg.Orders == nil {
		msg.Orders = []scenario.Order{}
	}
	if !snap.ScenarioStartedAt.IsZero() {
		t := snap.ScenarioStartedAt
		msg.ScenarioStartedAt = &t
	}
	if !snap.StageEnteredAt.IsZero() {
		t := snap.StageEnteredAt
		msg.StageEnteredAt = &t
	}

	if vitalsVisible {
		msg.Vitals = snap.Vitals
	} else {
		msg.Vitals = emptyObject{}
	}
	if rhythmVisible {
		msg.RhythmSummary = snap.RhythmSummary
		msg.EKGHistory = snap.EKGHistory
		msg.TelemetryHistory = snap.TelemetryHistory
		if snap.Telemetry {
			msg.TelemetryWaveform = scenario.SynthesizeWaveform(snap.Vitals.HR)
		}
	}

	msg.Exam, msg.ExamAudio = o.projectExam(rt, snap, presenter)

	if presenter {
		msg.StageIDs = snap.StageIDs
		if !snap.Extended.IsZero() {
			msg.Extended = snap.Extended
		}
		msg.Budget = &gateway.BudgetInfo{
			EstimateUSD:  rt.Cost.EstimateUSD(),
			VoiceSeconds: rt.Cost.VoiceSeconds(),
			SoftFired:    rt.Cost.SoftFired(),
			HardFired:    rt.Cost.OverHardLimit(),
		}
	}
	return msg
}

// projectExam restricts exam lines and auscultation clips to the subsets
// unlocked by completed exam orders. Presenters see all revealed content.
func (o *Orchestrator) projectExam(rt *Runtime, snap scenario.State, presenter bool) (map[string]string, map[string]string) {
	if snap.Exam == nil {
		return nil, nil
	}
	exam := map[string]string{}
	audio := map[string]string{}

	cardiac := presenter || rt.Engine.HasCompletedOrder(scenario.OrderCardiacExam)
	lungs := presenter || rt.Engine.HasCompletedOrder(scenario.OrderLungExam)
	general := presenter || rt.Engine.HasCompletedOrder(scenario.OrderGeneralExam)

	if cardiac {
		if snap.Exam.Cardio != "" {
			exam["cardio"] = snap.Exam.Cardio
		}
		if snap.Exam.Perfusion != "" {
			exam["perfusion"] = snap.Exam.Perfusion
		}
		if snap.Exam.HeartAudioURL != "" {
			audio["heart"] = snap.Exam.HeartAudioURL
		}
	}
	if lungs {
		if snap.Exam.Lungs != "" {
			exam["lungs"] = snap.Exam.Lungs
		}
		if snap.Exam.LungAudioURL != "" {
			audio["lung"] = snap.Exam.LungAudioURL
		}
	}
	if general {
		if snap.Exam.General != "" {
			exam["general"] = snap.Exam.General
		}
		if snap.Exam.Neuro != "" {
			exam["neuro"] = snap.Exam.Neuro
		}
	}

	if len(exam) == 0 {
		exam = nil
	}
	if len(audio) == 0 {
		audio = nil
	}
	return exam, audio
}

func sortedFindings(findings map[string]bool) []string {
	out := make([]string, 0, len(findings))
	for id, set := range findings {
		if set {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// broadcastSimStateLocked validates and sends one projection per role. An
// invalid projection is dropped and logged; valid siblings still go out.
// Caller holds the state lock.
func (o *Orchestrator) broadcastSimStateLocked(sessionID string, rt *Runtime) {
	presenterMsg := o.buildSimState(sessionID, rt, session.RolePresenter)
	if o.validateOutbound(sessionID, presenterMsg) {
		o.deps.Sessions.BroadcastToPresenters(sessionID, presenterMsg)
	}
	participantMsg := o.buildSimState(sessionID, rt, session.RoleParticipant)
	if o.validateOutbound(sessionID, participantMsg) {
		o.deps.Sessions.BroadcastToParticipants(sessionID, participantMsg)
	}
}

// broadcastSimState is the best-effort variant for callers not holding the
// state lock; it skips when a handler is in flight.
func (o *Orchestrator) broadcastSimState(sessionID string) {
	rt := o.runtime(sessionID)
	if rt == nil {
		return
	}
	lock := o.deps.Locks.Get(sessionID)
	lock.TryWith("sim_state.broadcast", func() error {
		o.broadcastSimStateLocked(sessionID, rt)
		return nil
	})
}

// validateOutbound is the shape-drift safety net on outbound sim_state.
func (o *Orchestrator) validateOutbound(sessionID string, msg gateway.SimState) bool {
	data, err := json.Marshal(msg)
	if err == nil {
		err = gateway.ValidateSimState(data)
	}
	if err != nil {
		slog.Error("sim_state failed outbound validation, broadcast dropped",
			"session_id", sessionID, "err", err)
		o.deps.Metrics.DroppedBroadcasts.Add(context.Background(), 1)
		return false
	}
	return true
}
