package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/scenario"
)

// treatmentEffect is one row of the declared drug/procedure table for simple
// (non-sub-engine) treatments.
type treatmentEffect struct {
	// Delta is applied to vitals immediately.
	Delta scenario.VitalsDelta

	// Decay, when non-nil, is scheduled as a pending intent after DecayAfter.
	Decay      *scenario.VitalsDelta
	DecayAfter time.Duration

	NurseLine string
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

// treatmentEffects is the effect table for treatments handled directly by the
// engine (no complex sub-engine involvement). Values are scenario data.
var treatmentEffects = map[string]treatmentEffect{
	"oxygen": {
		Delta:     scenario.VitalsDelta{SpO2: intp(5), RR: intp(-4)},
		NurseLine: "Oxygen is on, sats coming up.",
	},
	"albuterol": {
		Delta:      scenario.VitalsDelta{SpO2: intp(4), RR: intp(-8), HR: intp(12)},
		Decay:      &scenario.VitalsDelta{SpO2: intp(-2), RR: intp(4)},
		DecayAfter: 10 * time.Minute,
		NurseLine:  "Neb's running. Air entry already sounds better.",
	},
	"antipyretic": {
		Delta:      scenario.VitalsDelta{Temp: floatp(-0.9), HR: intp(-8)},
		DecayAfter: 0,
		NurseLine:  "Antipyretic given.",
	},
	"normal_saline": {
		Delta:     scenario.VitalsDelta{HR: intp(-6)},
		NurseLine: "Bolus running wide open.",
	},
}

// handleTreatment applies one treatment: complex types route through the
// SVT/myocarditis sub-engines, table types through the effect table. Both
// paths record the treatment history, re-derive the rhythm label, and emit
// the nurse narration. Caller holds the state lock.
func (o *Orchestrator) handleTreatment(ctx context.Context, sessionID string, rt *Runtime, req scenario.TreatmentRequest) {
	now := o.now()
	stage := rt.Engine.CurrentStage()
	intent := scenario.ToolIntent{Type: scenario.IntentApplyTreatment, Treatment: &req}
	if d := o.gate.Check(stage, intent); !d.Allowed {
		o.deps.Metrics.RecordToolIntent(ctx, string(scenario.IntentApplyTreatment), "rejected")
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			Type: "tool.intent.rejected",
			Data: map[string]any{"intentType": string(scenario.IntentApplyTreatment), "reason": d.Reason},
		})
		return
	}

	var nurseLine string
	switch {
	case o.svtTreatment(req.Type):
		nurseLine = o.applySVTTreatment(rt, req, now)
	case o.myoTreatment(req.Type):
		nurseLine = o.applyMyoTreatment(rt, req, now)
	default:
		nurseLine = o.applyTableTreatment(rt, req, now)
	}

	rt.Engine.AppendTreatment(now, req.Type, req.Note)
	rt.Engine.SetRhythm(rt.Engine.DynamicRhythm())
	if rt.Engine.State().Telemetry {
		rt.Engine.AppendTelemetryRecord(now, rt.Engine.State().RhythmSummary, "after "+req.Type)
	}

	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
		TS: now, Type: "treatment.applied",
		Data: map[string]any{"treatmentType": req.Type},
	})
	o.appendEngineEvents(ctx, sessionID, rt.Engine.EvaluateAutomaticTransitions(now, []string{"treatment"}))
	o.deps.Metrics.RecordToolIntent(ctx, string(scenario.IntentApplyTreatment), "accepted")

	if nurseLine != "" {
		o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
			Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
			Text: nurseLine, Character: "nurse",
		})
	}
}

func (o *Orchestrator) svtTreatment(typ string) bool {
	switch typ {
	case "vagal", "vagal_maneuver", "adenosine", "cardioversion", "defibrillation":
		return true
	}
	return false
}

func (o *Orchestrator) myoTreatment(typ string) bool {
	switch typ {
	case "fluid_bolus", "inotrope", "epinephrine_infusion":
		return true
	}
	return false
}

// applySVTTreatment routes through the SVT sub-engine when present; outside
// an SVT scenario the treatment records history only.
func (o *Orchestrator) applySVTTreatment(rt *Runtime, req scenario.TreatmentRequest, now time.Time) string {
	ext := rt.Engine.State().Extended
	if ext == nil || ext.SVT == nil {
		return fmt.Sprintf("%s given.", req.Type)
	}
	sv := ext.SVT

	var outcome string
	switch req.Type {
	case "vagal", "vagal_maneuver":
		res := sv.HandleVagal(now, req.Note != "")
		outcome = res.Description
		if res.Converted {
			o.applyConversionVitals(rt)
		}
	case "adenosine":
		rapidPush := req.Route == "" || req.Route == "iv_rapid_push"
		res := sv.HandleAdenosine(now, req.DoseMg, rapidPush, req.Flush)
		outcome = res.Description
		if res.Converted {
			o.applyConversionVitals(rt)
		}
	case "cardioversion", "defibrillation":
		synced := req.Synced && req.Type == "cardioversion"
		res := sv.HandleCardioversion(now, req.Joules, req.Sedated, synced)
		outcome = res.Description
		if res.Converted {
			o.applyConversionVitals(rt)
		}
	}
	return "The " + outcome + "."
}

// applyConversionVitals settles the vitals after an SVT conversion to sinus.
func (o *Orchestrator) applyConversionVitals(rt *Runtime) {
	v := rt.Engine.State().Vitals
	v.HR = 96
	v.BP = "112/70"
	v.SpO2 = 99
	v.RR = 18
	rt.Engine.SetVitals(v)
}

// applyMyoTreatment routes through the myocarditis sub-engine when present.
func (o *Orchestrator) applyMyoTreatment(rt *Runtime, req scenario.TreatmentRequest, now time.Time) string {
	ext := rt.Engine.State().Extended
	if ext == nil || ext.Myocarditis == nil {
		return fmt.Sprintf("%s given.", req.Type)
	}
	my := ext.Myocarditis

	switch req.Type {
	case "fluid_bolus":
		// DoseMg carries the volume in mL for fluid orders.
		line := my.HandleFluidBolus(now, req.DoseMg)
		if my.Flags.AggressiveFluids {
			v := rt.Engine.State().Vitals
			v.RR += 6
			v.SpO2 -= 2
			rt.Engine.SetVitals(v)
		}
		return "The " + line + "."
	case "inotrope", "epinephrine_infusion":
		drug := "epinephrine"
		if req.Note != "" {
			drug = req.Note
		}
		line := my.HandleInotrope(now, drug)
		v := rt.Engine.State().Vitals
		v.HR -= 12
		v.BP = "95/60"
		v.SpO2 += 2
		rt.Engine.SetVitals(v)
		return "The " + line + "."
	}
	return ""
}

// applyTableTreatment applies a declared effect-table row: immediate vitals
// delta plus an optional scheduled decay intent.
func (o *Orchestrator) applyTableTreatment(rt *Runtime, req scenario.TreatmentRequest, now time.Time) string {
	eff, ok := treatmentEffects[req.Type]
	if !ok {
		return fmt.Sprintf("%s given.", req.Type)
	}

	if req.Type == "oxygen" && rt.Engine.State().Interventions.Oxygen == nil {
		rt.Engine.State().Interventions.Oxygen = &scenario.Oxygen{Mode: "nc", LPM: 2}
	}

	delta := eff.Delta
	rt.Engine.ApplyIntent(scenario.ToolIntent{
		Type: scenario.IntentUpdateVitals, Vitals: &delta,
	}, now)

	if eff.Decay != nil && eff.DecayAfter > 0 {
		decay := *eff.Decay
		rt.Engine.ScheduleEffect(now.Add(eff.DecayAfter), scenario.ToolIntent{
			Type: scenario.IntentUpdateVitals, Vitals: &decay,
		})
	}
	return eff.NurseLine
}
