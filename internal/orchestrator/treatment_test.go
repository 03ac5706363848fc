package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/internal/scenario/myocarditis"
)

// enterTreatmentStage forces the stage machine past arrival so treatment
// intents clear the tool gate.
func enterTreatmentStage(t *testing.T, rt *Runtime, now time.Time) {
	t.Helper()
	rt.Engine.ApplyIntent(scenario.ToolIntent{
		Type: scenario.IntentSetStage, StageID: "treatment",
	}, now)
	if got := rt.Engine.State().StageID; got != "treatment" {
		t.Fatalf("stage = %q after set", got)
	}
}

func TestHandleTreatment_GateRejectsOutsideTreatmentStages(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_asthma_v1")

	o.handleTreatment(context.Background(), "s1", rt, scenario.TreatmentRequest{Type: "oxygen"})

	if n := len(rt.Engine.State().TreatmentHistory); n != 0 {
		t.Errorf("treatment applied during arrival: %d history entries", n)
	}
	if !containsType(recentTypes(o, "s1", 10), "tool.intent.rejected") {
		t.Errorf("rejection not logged")
	}
}

func TestHandleTreatment_TableEffects(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_asthma_v1")
	ctx := context.Background()
	enterTreatmentStage(t, rt, o.now())

	o.handleTreatment(ctx, "s1", rt, scenario.TreatmentRequest{Type: "oxygen"})

	st := rt.Engine.State()
	if st.Vitals.SpO2 != 96 || st.Vitals.RR != 32 {
		t.Errorf("vitals after oxygen = SpO2 %d RR %d, want 96/32", st.Vitals.SpO2, st.Vitals.RR)
	}
	if st.Interventions.Oxygen == nil {
		t.Errorf("oxygen intervention not placed")
	}
	if len(st.TreatmentHistory) != 1 {
		t.Errorf("TreatmentHistory = %d entries", len(st.TreatmentHistory))
	}
	if !containsType(recentTypes(o, "s1", 10), "treatment.applied") {
		t.Errorf("treatment not logged")
	}
}

func TestHandleTreatment_AlbuterolSchedulesDecay(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_asthma_v1")
	ctx := context.Background()
	enterTreatmentStage(t, rt, o.now())

	o.handleTreatment(ctx, "s1", rt, scenario.TreatmentRequest{Type: "albuterol"})

	snap := rt.Engine.Snapshot()
	if snap.Vitals.RR != 28 || snap.Vitals.HR != 144 {
		t.Errorf("vitals after albuterol = RR %d HR %d, want 28/144", snap.Vitals.RR, snap.Vitals.HR)
	}
	if len(snap.PendingEffects) != 1 {
		t.Fatalf("PendingEffects = %d, want the scheduled wear-off", len(snap.PendingEffects))
	}
	wantAt := o.now().Add(10 * time.Minute)
	if !snap.PendingEffects[0].FireAt.Equal(wantAt) {
		t.Errorf("decay FireAt = %v, want %v", snap.PendingEffects[0].FireAt, wantAt)
	}
}

func TestHandleTreatment_UnknownTypeRecordsHistoryOnly(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_asthma_v1")
	enterTreatmentStage(t, rt, o.now())

	before := rt.Engine.State().Vitals
	o.handleTreatment(context.Background(), "s1", rt, scenario.TreatmentRequest{Type: "magnesium"})

	st := rt.Engine.State()
	if st.Vitals != before {
		t.Errorf("unknown treatment changed vitals: %+v", st.Vitals)
	}
	if len(st.TreatmentHistory) != 1 {
		t.Errorf("TreatmentHistory = %d entries", len(st.TreatmentHistory))
	}
}

func TestHandleTreatment_AdenosineConvertsSVT(t *testing.T) {
	o, rt := newTestOrchestrator(t, "teen_svt_complex_v1")
	ctx := context.Background()
	enterTreatmentStage(t, rt, o.now())

	// 0.1 mg/kg for the 50 kg teen, rapid push with flush: converts first try.
	o.handleTreatment(ctx, "s1", rt, scenario.TreatmentRequest{
		Type: "adenosine", DoseMg: 5.0, Flush: true,
	})

	sv := rt.Engine.State().Extended.SVT
	if !sv.Converted {
		t.Fatalf("adequate adenosine did not convert")
	}
	v := rt.Engine.State().Vitals
	if v.HR != 96 || v.BP != "112/70" || v.SpO2 != 99 || v.RR != 18 {
		t.Errorf("post-conversion vitals = %+v", v)
	}
	if got := rt.Engine.State().RhythmSummary; got != "Normal sinus rhythm" {
		t.Errorf("RhythmSummary = %q after conversion", got)
	}
}

func TestHandleTreatment_SlowPushDoesNotConvert(t *testing.T) {
	o, rt := newTestOrchestrator(t, "teen_svt_complex_v1")
	enterTreatmentStage(t, rt, o.now())

	o.handleTreatment(context.Background(), "s1", rt, scenario.TreatmentRequest{
		Type: "adenosine", DoseMg: 5.0, Route: "iv_slow", Flush: true,
	})

	sv := rt.Engine.State().Extended.SVT
	if sv.Converted {
		t.Errorf("slow push converted the rhythm")
	}
	if got := rt.Engine.State().RhythmSummary; got != "SVT" {
		t.Errorf("RhythmSummary = %q, want SVT", got)
	}
}

func TestHandleTreatment_FluidBolusCautionVsAggressive(t *testing.T) {
	t.Run("cautious bolus tolerated", func(t *testing.T) {
		o, rt := newTestOrchestrator(t, "child_myocarditis_complex_v1")
		enterTreatmentStage(t, rt, o.now())

		o.handleTreatment(context.Background(), "s1", rt, scenario.TreatmentRequest{
			Type: "fluid_bolus", DoseMg: 200, // 10 mL/kg for the 20 kg child
		})
		my := rt.Engine.State().Extended.Myocarditis
		if my.Flags.AggressiveFluids {
			t.Errorf("10 mL/kg flagged as aggressive")
		}
	})

	t.Run("aggressive bolus decompensates", func(t *testing.T) {
		o, rt := newTestOrchestrator(t, "child_myocarditis_complex_v1")
		enterTreatmentStage(t, rt, o.now())
		before := rt.Engine.State().Vitals

		o.handleTreatment(context.Background(), "s1", rt, scenario.TreatmentRequest{
			Type: "fluid_bolus", DoseMg: 400, // 20 mL/kg
		})
		st := rt.Engine.State()
		my := st.Extended.Myocarditis
		if !my.Flags.AggressiveFluids {
			t.Fatalf("20 mL/kg not flagged as aggressive")
		}
		if st.Vitals.RR != before.RR+6 || st.Vitals.SpO2 != before.SpO2-2 {
			t.Errorf("vitals after aggressive bolus = RR %d SpO2 %d", st.Vitals.RR, st.Vitals.SpO2)
		}
	})
}

func TestHandleTreatment_InotropeStabilizes(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_myocarditis_complex_v1")
	enterTreatmentStage(t, rt, o.now())
	before := rt.Engine.State().Vitals

	o.handleTreatment(context.Background(), "s1", rt, scenario.TreatmentRequest{Type: "inotrope"})

	st := rt.Engine.State()
	my := st.Extended.Myocarditis
	if my.Phase != myocarditis.PhaseStabilized {
		t.Fatalf("phase = %q after inotrope", my.Phase)
	}
	if st.Vitals.HR != before.HR-12 || st.Vitals.BP != "95/60" {
		t.Errorf("vitals after inotrope = HR %d BP %s", st.Vitals.HR, st.Vitals.BP)
	}
}
