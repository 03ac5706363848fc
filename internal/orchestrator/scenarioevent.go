package orchestrator

import (
	"context"
	"fmt"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/internal/session"
)

// ageVitals holds the per-age-group baseline and critical vitals used by the
// presenter's scenario-event injects. Declared data.
var ageVitals = map[scenario.AgeGroup]struct {
	Baseline scenario.Vitals
	Critical scenario.Vitals
}{
	scenario.AgeInfant: {
		Baseline: scenario.Vitals{HR: 130, BP: "85/50", SpO2: 98, RR: 40, Temp: 37.0},
		Critical: scenario.Vitals{HR: 195, BP: "60/35", SpO2: 82, RR: 70, Temp: 39.5},
	},
	scenario.AgeToddler: {
		Baseline: scenario.Vitals{HR: 110, BP: "90/55", SpO2: 98, RR: 30, Temp: 37.0},
		Critical: scenario.Vitals{HR: 175, BP: "65/40", SpO2: 84, RR: 55, Temp: 39.5},
	},
	scenario.AgePreschool: {
		Baseline: scenario.Vitals{HR: 100, BP: "95/60", SpO2: 98, RR: 25, Temp: 37.0},
		Critical: scenario.Vitals{HR: 165, BP: "70/45", SpO2: 85, RR: 45, Temp: 39.8},
	},
	scenario.AgeChild: {
		Baseline: scenario.Vitals{HR: 90, BP: "100/65", SpO2: 98, RR: 22, Temp: 37.0},
		Critical: scenario.Vitals{HR: 150, BP: "75/50", SpO2: 86, RR: 40, Temp: 40.0},
	},
	scenario.AgeTeen: {
		Baseline: scenario.Vitals{HR: 75, BP: "115/70", SpO2: 98, RR: 16, Temp: 37.0},
		Critical: scenario.Vitals{HR: 140, BP: "80/50", SpO2: 88, RR: 32, Temp: 40.0},
	},
}

// scenarioEventTypes is the closed set of presenter injects.
var scenarioEventTypes = map[string]bool{
	"hypoxia": true, "tachycardia": true, "hypotension": true, "fever": true,
	"stabilize": true, "rhythm_change": true, "deteriorate": true, "improve": true,
	"code_blue": true, "vitals_change": true, "equipment_failure": true,
	"patient_symptom": true,
}

// handleScenarioEvent applies one presenter inject: an age-group-aware vitals
// override plus a nurse narration line. Presenter only.
func (o *Orchestrator) handleScenarioEvent(ctx context.Context, c *gateway.Client, sessionID string, rt *Runtime, payload map[string]any) {
	if c.Role() != session.RolePresenter {
		_ = c.SendJSON(gateway.NewError("scenario_event requires the presenter role"))
		return
	}
	var req struct {
		EventType string               `json:"eventType"`
		Vitals    *scenario.VitalsDelta `json:"vitals"`
		Note      string               `json:"note"`
	}
	if err := decodePayload(payload, &req); err != nil || !scenarioEventTypes[req.EventType] {
		_ = c.SendJSON(gateway.NewError("unknown scenario event type"))
		return
	}

	now := o.now()
	group := rt.Engine.Demographics().AgeGroup
	bands, ok := ageVitals[group]
	if !ok {
		bands = ageVitals[scenario.AgeChild]
	}
	v := rt.Engine.State().Vitals

	var line string
	switch req.EventType {
	case "hypoxia":
		v.SpO2 = bands.Critical.SpO2
		v.RR = bands.Critical.RR
		line = "Sats are dropping fast."
	case "tachycardia":
		v.HR = bands.Critical.HR
		line = "Heart rate just spiked."
	case "hypotension":
		v.BP = bands.Critical.BP
		v.HR += 15
		line = "Pressure's falling."
	case "fever":
		v.Temp = bands.Critical.Temp
		v.HR += 10
		line = "Temp is way up."
	case "stabilize", "improve":
		v = bands.Baseline
		line = "The patient looks much better."
	case "deteriorate":
		v.HR = bands.Critical.HR
		v.SpO2 = bands.Critical.SpO2
		v.BP = bands.Critical.BP
		v.RR = bands.Critical.RR
		line = "The patient is deteriorating."
	case "code_blue":
		v = bands.Critical
		v.HR = 0
		v.SpO2 = 60
		line = "Code blue! No pulse!"
	case "rhythm_change":
		line = "The rhythm on the monitor just changed."
	case "vitals_change":
		if req.Vitals != nil {
			applyDelta(&v, *req.Vitals)
		}
		line = "New set of vitals is up."
	case "equipment_failure":
		line = "The monitor just cut out — checking the leads."
	case "patient_symptom":
		line = req.Note
		if line == "" {
			line = "The patient is complaining of new symptoms."
		}
	}

	switch req.EventType {
	case "equipment_failure", "patient_symptom", "rhythm_change":
		// Narration-only injects leave the vitals alone.
	default:
		rt.Engine.SetVitals(v)
		rt.Engine.SetRhythm(rt.Engine.DynamicRhythm())
		if rt.Engine.State().Telemetry {
			rt.Engine.AppendTelemetryRecord(now, rt.Engine.State().RhythmSummary,
				fmt.Sprintf("after %s inject", req.EventType))
		}
	}

	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
		TS: now, Type: "scenario.event",
		Data: map[string]any{"eventType": req.EventType},
	})
	if line != "" {
		o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
			Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
			Text: line, Character: "nurse",
		})
	}
}

// applyDelta applies a VitalsDelta onto a copy of vitals, mirroring the
// engine's delta semantics (BP replaces).
func applyDelta(v *scenario.Vitals, d scenario.VitalsDelta) {
	if d.HR != nil {
		v.HR += *d.HR
	}
	if d.SpO2 != nil {
		v.SpO2 += *d.SpO2
	}
	if d.RR != nil {
		v.RR += *d.RR
	}
	if d.Temp != nil {
		v.Temp += *d.Temp
	}
	if d.BP != nil {
		v.BP = *d.BP
	}
}
