package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clinsim/voicegate/internal/cost"
	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/pkg/provider/realtime"
)

// realtimeTools declares the tool surface offered to the Realtime model. The
// argument schemas mirror the ToolIntent variants; the tool gate remains the
// authority on whether a proposed intent applies.
func realtimeTools() []realtime.ToolDefinition {
	return []realtime.ToolDefinition{
		{
			Name:        "updateVitals",
			Description: "Adjust the patient's vital signs by signed deltas. bp replaces the reading.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"hr":   map[string]any{"type": "integer"},
					"bp":   map[string]any{"type": "string"},
					"spo2": map[string]any{"type": "integer"},
					"rr":   map[string]any{"type": "integer"},
					"temp": map[string]any{"type": "number"},
				},
			},
		},
		{
			Name:        "revealFinding",
			Description: "Reveal a clinical finding to the participants.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"findingId": map[string]any{"type": "string"}},
				"required":   []string{"findingId"},
			},
		},
		{
			Name:        "applyTreatment",
			Description: "Record a treatment the team has administered.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"treatmentType": map[string]any{"type": "string"},
					"note":          map[string]any{"type": "string"},
				},
				"required": []string{"treatmentType"},
			},
		},
		{
			Name:        "submitOrder",
			Description: "Place a clinical order (vitals, ekg, labs, imaging, exams, iv_access).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"orderType": map[string]any{"type": "string"},
					"orderedBy": map[string]any{"type": "string"},
				},
				"required": []string{"orderType"},
			},
		},
		{
			Name:        "setStage",
			Description: "Force the scenario to a named stage.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"stageId": map[string]any{"type": "string"}},
				"required":   []string{"stageId"},
			},
		},
	}
}

// buildInstructions composes the Realtime system prompt from the scenario
// definition and the live state. Regenerated on stage changes.
func buildInstructions(def *scenario.Definition, st *scenario.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the simulated patient in a paediatric emergency scenario: %s. ", def.Name)
	fmt.Fprintf(&b, "The patient is %.1f years old and weighs %.0f kg. ",
		def.Demographics.AgeYears, def.Demographics.WeightKg)
	fmt.Fprintf(&b, "Current stage: %s. ", st.StageID)
	fmt.Fprintf(&b, "Current vitals: HR %d, BP %s, SpO2 %d%%, RR %d, temp %.1f. ",
		st.Vitals.HR, st.Vitals.BP, st.Vitals.SpO2, st.Vitals.RR, st.Vitals.Temp)
	b.WriteString("Stay in character, answer briefly as the patient would, ")
	b.WriteString("and use the provided tools when the team's actions change your condition. ")
	b.WriteString("Never reveal the diagnosis or coach the team.")
	return b.String()
}

// connectRealtime opens the Realtime session for a runtime. Failure is soft:
// the session runs in the legacy STT path.
func (o *Orchestrator) connectRealtime(ctx context.Context, sessionID string, rt *Runtime) {
	if o.deps.Realtime == nil {
		return
	}
	voice := o.cfg.Voices["patient"]
	cfg := realtime.SessionConfig{
		Voice:        voice,
		Instructions: buildInstructions(rt.Engine.Definition(), rt.Engine.State()),
		Tools:        realtimeTools(),
	}
	ev := realtime.Events{
		OnAudioOut: func(audio []byte) {
			if r := o.runtime(sessionID); r != nil && !r.patientSpeaking.Swap(true) {
				o.broadcastPatientState(sessionID, patientStateSpeaking, "patient")
			}
			o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientAudio{
				Type: gateway.TypePatientAudio, SessionID: sessionID,
				AudioBase64: base64.StdEncoding.EncodeToString(audio),
				Character:   "patient",
			})
		},
		OnTranscriptDelta: func(text string, final bool) {
			if final {
				if r := o.runtime(sessionID); r != nil && r.patientSpeaking.Swap(false) {
					o.broadcastPatientState(sessionID, patientStateIdle, "")
				}
				return
			}
			o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
				Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
				Text: text, Character: "patient",
			})
		},
		OnToolCall: func(name, argsJSON string) {
			o.handleToolCall(sessionID, name, argsJSON)
		},
		OnUsage: func(u realtime.Usage) {
			if r := o.runtime(sessionID); r != nil {
				r.Cost.AddUsage(cost.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens})
			}
		},
		OnDisconnect: func(err error) {
			slog.Warn("realtime session dropped", "session_id", sessionID, "err", err)
			if r := o.runtime(sessionID); r != nil {
				lock := o.deps.Locks.Get(sessionID)
				lock.TryWith("realtime.disconnect", func() error {
					r.RT = nil
					return nil
				})
			}
		},
	}

	handle, err := o.deps.Realtime.Connect(ctx, cfg, ev)
	if err != nil {
		slog.Warn("realtime connect failed, session runs text-only voice",
			"session_id", sessionID, "err", err)
		o.deps.Metrics.RecordAdapterError(ctx, "realtime")
		return
	}
	rt.RT = handle
}

// handleToolCall parses a raw Realtime tool call into a ToolIntent and runs
// it through the gated intent pipeline under the state lock.
func (o *Orchestrator) handleToolCall(sessionID, name, argsJSON string) {
	intent, err := parseToolCall(name, argsJSON)
	if err != nil {
		slog.Warn("unparseable tool call", "session_id", sessionID, "tool", name, "err", err)
		return
	}

	ctx := context.Background()
	rt := o.runtime(sessionID)
	if rt == nil {
		return
	}
	lock := o.deps.Locks.Get(sessionID)
	_ = lock.With(ctx, "tool."+name, func() error {
		o.applyIntent(ctx, sessionID, rt, intent, nil)
		o.broadcastSimStateLocked(sessionID, rt)
		return nil
	})
}

// parseToolCall maps a Realtime tool call onto a ToolIntent.
func parseToolCall(name, argsJSON string) (scenario.ToolIntent, error) {
	raw := []byte(argsJSON)
	switch name {
	case "updateVitals":
		var d scenario.VitalsDelta
		if err := json.Unmarshal(raw, &d); err != nil {
			return scenario.ToolIntent{}, fmt.Errorf("orchestrator: decode %s args: %w", name, err)
		}
		return scenario.ToolIntent{Type: scenario.IntentUpdateVitals, Vitals: &d}, nil
	case "revealFinding":
		var a struct {
			FindingID string `json:"findingId"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return scenario.ToolIntent{}, fmt.Errorf("orchestrator: decode %s args: %w", name, err)
		}
		return scenario.ToolIntent{Type: scenario.IntentRevealFinding, FindingID: a.FindingID}, nil
	case "applyTreatment":
		var t scenario.TreatmentRequest
		if err := json.Unmarshal(raw, &t); err != nil {
			return scenario.ToolIntent{}, fmt.Errorf("orchestrator: decode %s args: %w", name, err)
		}
		return scenario.ToolIntent{Type: scenario.IntentApplyTreatment, Treatment: &t}, nil
	case "submitOrder":
		var or scenario.OrderRequest
		if err := json.Unmarshal(raw, &or); err != nil {
			return scenario.ToolIntent{}, fmt.Errorf("orchestrator: decode %s args: %w", name, err)
		}
		return scenario.ToolIntent{Type: scenario.IntentSubmitOrder, Order: &or}, nil
	case "setStage":
		var a struct {
			StageID string `json:"stageId"`
		}
		if err := json.Unmarshal(raw, &a); err != nil {
			return scenario.ToolIntent{}, fmt.Errorf("orchestrator: decode %s args: %w", name, err)
		}
		return scenario.ToolIntent{Type: scenario.IntentSetStage, StageID: a.StageID}, nil
	default:
		return scenario.ToolIntent{}, fmt.Errorf("orchestrator: unknown tool %q", name)
	}
}

// applyIntent gates one intent, applies it, logs the resulting events, and
// evaluates at most one automatic stage transition. hints carry action
// classes for ActionHint exit rules. Caller holds the state lock.
func (o *Orchestrator) applyIntent(ctx context.Context, sessionID string, rt *Runtime, intent scenario.ToolIntent, hints []string) bool {
	stage := rt.Engine.CurrentStage()
	if d := o.gate.Check(stage, intent); !d.Allowed {
		o.deps.Metrics.RecordToolIntent(ctx, string(intent.Type), "rejected")
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			Type: "tool.intent.rejected",
			Data: map[string]any{"intentType": string(intent.Type), "reason": d.Reason},
		})
		return false
	}

	now := o.now()
	events := rt.Engine.ApplyIntent(intent, now)
	events = append(events, rt.Engine.EvaluateAutomaticTransitions(now, hints)...)
	o.appendEngineEvents(ctx, sessionID, events)
	o.deps.Metrics.RecordToolIntent(ctx, string(intent.Type), "accepted")

	if rt.RT != nil {
		// Keep the model's picture of the patient current.
		_ = rt.RT.UpdateInstructions(buildInstructions(rt.Engine.Definition(), rt.Engine.State()))
	}
	return true
}

// appendEngineEvents forwards engine events to the session event log.
func (o *Orchestrator) appendEngineEvents(ctx context.Context, sessionID string, events []scenario.Event) {
	for _, ev := range events {
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{TS: ev.TS, Type: ev.Type, Data: ev.Data})
	}
}
