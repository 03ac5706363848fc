package scenario

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func intp(v int) *int           { return &v }
func strp(v string) *string     { return &v }
func floatp(v float64) *float64 { return &v }

func newEngine(t *testing.T, id string) *Engine {
	t.Helper()
	e, err := NewByID(id, t0)
	if err != nil {
		t.Fatalf("NewByID(%q): %v", id, err)
	}
	return e
}

func TestNewByID_UnknownScenario(t *testing.T) {
	if _, err := NewByID("ward_round_v9", t0); !errors.Is(err, ErrUnknownScenario) {
		t.Errorf("err = %v, want ErrUnknownScenario", err)
	}
}

func TestNew_SeedsInitialState(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")
	st := e.State()
	if st.StageID != "arrival" {
		t.Errorf("StageID = %q, want arrival", st.StageID)
	}
	if st.Vitals != e.Definition().InitialVitals {
		t.Errorf("Vitals = %+v, want initial vitals", st.Vitals)
	}
	if st.NextOrderID != 1 {
		t.Errorf("NextOrderID = %d, want 1", st.NextOrderID)
	}
	if st.Extended != nil {
		t.Errorf("simple scenario carries extended state")
	}

	svtE := newEngine(t, "teen_svt_complex_v1")
	if svtE.State().Extended == nil || svtE.State().Extended.SVT == nil {
		t.Errorf("SVT scenario missing sub-engine state")
	}
	myoE := newEngine(t, "child_myocarditis_complex_v1")
	if myoE.State().Extended == nil || myoE.State().Extended.Myocarditis == nil {
		t.Errorf("myocarditis scenario missing sub-engine state")
	}
}

func TestApplyIntent_VitalsDeltaClamps(t *testing.T) {
	e := newEngine(t, "child_asthma_v1") // HR 132, SpO2 91, RR 36, Temp 37.1

	events := e.ApplyIntent(ToolIntent{
		Type: IntentUpdateVitals,
		Vitals: &VitalsDelta{
			HR:   intp(500),
			SpO2: intp(40),
			RR:   intp(-100),
			Temp: floatp(20),
			BP:   strp("80/40"),
		},
	}, t0)

	if len(events) != 1 || events[0].Type != "vitals.updated" {
		t.Fatalf("events = %+v, want single vitals.updated", events)
	}
	v := e.State().Vitals
	if v.HR != 300 {
		t.Errorf("HR = %d, want clamp to 300", v.HR)
	}
	if v.SpO2 != 100 {
		t.Errorf("SpO2 = %d, want clamp to 100", v.SpO2)
	}
	if v.RR != 0 {
		t.Errorf("RR = %d, want clamp to 0", v.RR)
	}
	if v.Temp != 43.0 {
		t.Errorf("Temp = %v, want clamp to 43.0", v.Temp)
	}
	if v.BP != "80/40" {
		t.Errorf("BP = %q, want replacement", v.BP)
	}
}

func TestApplyIntent_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		intent ToolIntent
		reason string
	}{
		{"vitals without delta", ToolIntent{Type: IntentUpdateVitals}, "missing vitals delta"},
		{"finding without id", ToolIntent{Type: IntentRevealFinding}, "missing finding id"},
		{"treatment without body", ToolIntent{Type: IntentApplyTreatment}, "missing treatment"},
		{"order with bad type", ToolIntent{Type: IntentSubmitOrder, Order: &OrderRequest{Type: "mri"}}, "missing or invalid order type"},
		{"stage unknown", ToolIntent{Type: IntentSetStage, StageID: "limbo"}, "unknown stage id"},
		{"unknown intent", ToolIntent{Type: "intent_reboot"}, "unknown intent type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, "child_asthma_v1")
			before := e.Snapshot()
			events := e.ApplyIntent(tc.intent, t0)
			if len(events) != 1 || events[0].Type != "tool.intent.rejected" {
				t.Fatalf("events = %+v, want single tool.intent.rejected", events)
			}
			if got := events[0].Data["reason"]; got != tc.reason {
				t.Errorf("reason = %v, want %q", got, tc.reason)
			}
			after := e.Snapshot()
			if after.StageID != before.StageID || after.Vitals != before.Vitals ||
				len(after.Orders) != len(before.Orders) || len(after.TreatmentHistory) != len(before.TreatmentHistory) {
				t.Errorf("rejected intent mutated state")
			}
		})
	}
}

func TestApplyIntent_OrderLifecycle(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")

	e.ApplyIntent(ToolIntent{Type: IntentSubmitOrder, Order: &OrderRequest{Type: OrderEKG, OrderedBy: "u1"}}, t0)
	e.ApplyIntent(ToolIntent{Type: IntentSubmitOrder, Order: &OrderRequest{Type: OrderEKG}}, t0.Add(time.Second))
	e.ApplyIntent(ToolIntent{Type: IntentSubmitOrder, Order: &OrderRequest{Type: OrderLabs}}, t0.Add(2*time.Second))

	st := e.State()
	if st.NextOrderID != 4 {
		t.Errorf("NextOrderID = %d, want 4 after three orders", st.NextOrderID)
	}
	for i, want := range []int{1, 2, 3} {
		if st.Orders[i].ID != want {
			t.Errorf("Orders[%d].ID = %d, want %d", i, st.Orders[i].ID, want)
		}
	}

	// Oldest pending of a type wins.
	o, ok := e.PendingOrder(OrderEKG)
	if !ok || o.ID != 1 {
		t.Fatalf("PendingOrder(ekg) = %+v ok=%v, want order 1", o, ok)
	}

	done := t0.Add(30 * time.Second)
	if !e.CompleteOrder(1, "SVT at 220", done) {
		t.Fatalf("CompleteOrder(1) failed")
	}
	if e.CompleteOrder(1, "again", done) {
		t.Errorf("completing a complete order reported success")
	}
	if e.CompleteOrder(99, "x", done) {
		t.Errorf("completing an unknown order reported success")
	}

	if !e.HasCompletedOrder(OrderEKG) {
		t.Errorf("HasCompletedOrder(ekg) = false after completion")
	}
	if e.HasCompletedOrder(OrderImaging) {
		t.Errorf("HasCompletedOrder(imaging) = true with none placed")
	}

	// Second EKG order is still pending and now the oldest.
	if o, ok := e.PendingOrder(OrderEKG); !ok || o.ID != 2 {
		t.Errorf("PendingOrder(ekg) after completion = %+v ok=%v, want order 2", o, ok)
	}

	got := e.State().Orders[0]
	if got.Status != OrderComplete || got.Result != "SVT at 220" || got.CompletedAt == nil {
		t.Errorf("completed order = %+v, want status/result/completedAt set", got)
	}
}

func TestEvaluateAutomaticTransitions(t *testing.T) {
	t.Run("guard rule", func(t *testing.T) {
		e := newEngine(t, "infant_bronchiolitis_v1")
		if ev := e.EvaluateAutomaticTransitions(t0.Add(time.Second), nil); ev != nil {
			t.Fatalf("transition fired with no guard satisfied: %+v", ev)
		}
		e.State().Interventions.Oxygen = &Oxygen{Mode: "hfnc", LPM: 8}
		ev := e.EvaluateAutomaticTransitions(t0.Add(2*time.Second), nil)
		if len(ev) != 1 || ev[0].Type != "stage.advanced" {
			t.Fatalf("events = %+v, want stage.advanced", ev)
		}
		if e.State().StageID != "treatment" {
			t.Errorf("StageID = %q, want treatment", e.State().StageID)
		}
	})

	t.Run("dwell rule honors min seconds", func(t *testing.T) {
		e := newEngine(t, "infant_bronchiolitis_v1")
		if ev := e.EvaluateAutomaticTransitions(t0.Add(179*time.Second), nil); ev != nil {
			t.Fatalf("dwell rule fired early: %+v", ev)
		}
		if ev := e.EvaluateAutomaticTransitions(t0.Add(180*time.Second), nil); ev == nil {
			t.Fatalf("dwell rule did not fire at its boundary")
		}
	})

	t.Run("action hint rule", func(t *testing.T) {
		e := newEngine(t, "child_asthma_v1")
		if ev := e.EvaluateAutomaticTransitions(t0.Add(time.Second), []string{"order"}); ev != nil {
			t.Fatalf("hint rule matched wrong hint: %+v", ev)
		}
		ev := e.EvaluateAutomaticTransitions(t0.Add(time.Second), []string{"treatment"})
		if len(ev) != 1 || e.State().StageID != "treatment" {
			t.Fatalf("hint rule did not advance, events = %+v stage = %q", ev, e.State().StageID)
		}
	})

	t.Run("at most one advance per call", func(t *testing.T) {
		e := newEngine(t, "infant_bronchiolitis_v1")
		// Oxygen on AND oxygenation already recovered: both arrival and
		// treatment exit rules would pass, but only one stage moves.
		e.State().Interventions.Oxygen = &Oxygen{Mode: "nc", LPM: 2}
		e.SetVitals(Vitals{HR: 140, BP: "90/55", SpO2: 96, RR: 40, Temp: 37.5})
		e.EvaluateAutomaticTransitions(t0.Add(time.Second), nil)
		if e.State().StageID != "treatment" {
			t.Fatalf("StageID = %q after one evaluation, want treatment", e.State().StageID)
		}
	})
}

func TestTick_FiresDueEffectsInOrder(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")

	// Scheduled out of fire order; same-instant effects tie-break on seq.
	at := t0.Add(10 * time.Second)
	e.ScheduleEffect(at, ToolIntent{Type: IntentRevealFinding, FindingID: "second"})
	e.ScheduleEffect(t0.Add(5*time.Second), ToolIntent{Type: IntentRevealFinding, FindingID: "first"})
	e.ScheduleEffect(at, ToolIntent{Type: IntentRevealFinding, FindingID: "third"})
	e.ScheduleEffect(t0.Add(time.Hour), ToolIntent{Type: IntentRevealFinding, FindingID: "later"})

	events := e.Tick(t0.Add(10 * time.Second))

	var fired []string
	for _, ev := range events {
		if ev.Type == "finding.revealed" {
			fired = append(fired, ev.Data["findingId"].(string))
		}
	}
	want := []string{"first", "second", "third"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %q, want %q", i, fired[i], want[i])
		}
	}

	if len(e.State().PendingEffects) != 1 {
		t.Errorf("PendingEffects = %d, want the far-future effect kept", len(e.State().PendingEffects))
	}
	if e.State().ElapsedSeconds != 10 {
		t.Errorf("ElapsedSeconds = %d, want 10", e.State().ElapsedSeconds)
	}
}

func TestSetVitals_Clamps(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")
	e.SetVitals(Vitals{HR: -10, BP: "0/0", SpO2: 140, RR: 200, Temp: 12})
	v := e.State().Vitals
	if v.HR != 0 || v.SpO2 != 100 || v.RR != 80 || v.Temp != 30.0 {
		t.Errorf("clamped vitals = %+v", v)
	}
}

func TestAppendEKG_KeepsLastThree(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")
	for i := 0; i < 5; i++ {
		e.AppendEKG(t0.Add(time.Duration(i)*time.Minute), string(rune('a'+i)), "")
	}
	h := e.State().EKGHistory
	if len(h) != 3 {
		t.Fatalf("EKGHistory len = %d, want 3", len(h))
	}
	if h[0].Summary != "c" || h[2].Summary != "e" {
		t.Errorf("EKGHistory = %+v, want the three most recent", h)
	}
}

func TestAppendTelemetryRecord_DedupesConsecutiveRhythm(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")
	e.AppendTelemetryRecord(t0, "Sinus tachycardia", "")
	e.AppendTelemetryRecord(t0.Add(time.Second), "Sinus tachycardia", "repeat")
	e.AppendTelemetryRecord(t0.Add(2*time.Second), "Normal sinus rhythm", "")
	e.AppendTelemetryRecord(t0.Add(3*time.Second), "Sinus tachycardia", "back")

	h := e.State().TelemetryHistory
	if len(h) != 3 {
		t.Fatalf("TelemetryHistory len = %d, want 3", len(h))
	}
	if h[0].Rhythm != "Sinus tachycardia" || h[1].Rhythm != "Normal sinus rhythm" || h[2].Rhythm != "Sinus tachycardia" {
		t.Errorf("TelemetryHistory = %+v", h)
	}
}

func TestSetTelemetry_EnableRecordsRhythm(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")
	e.SetRhythm("Sinus tachycardia")
	e.SetTelemetry(true, t0)
	if !e.State().Telemetry {
		t.Fatalf("telemetry not enabled")
	}
	if len(e.State().TelemetryHistory) != 1 {
		t.Errorf("enabling telemetry did not record the rhythm")
	}
}

func TestSnapshotHydrate_RoundTripIsDeep(t *testing.T) {
	e := newEngine(t, "teen_svt_complex_v1")
	e.ApplyIntent(ToolIntent{Type: IntentSubmitOrder, Order: &OrderRequest{Type: OrderEKG}}, t0)
	e.ApplyIntent(ToolIntent{Type: IntentRevealFinding, FindingID: "cardiac_exam"}, t0)
	e.AppendTreatment(t0, "adenosine", "0.1 mg/kg")
	e.ScheduleEffect(t0.Add(time.Minute), ToolIntent{Type: IntentUpdateVitals, Vitals: &VitalsDelta{HR: intp(-40)}})

	snap := e.Snapshot()

	// Mutating the snapshot must not leak into the live state.
	snap.Findings["planted"] = true
	snap.Orders[0].Status = OrderComplete
	snap.Extended.SVT.Converted = true
	if e.State().Findings["planted"] {
		t.Errorf("snapshot findings alias live state")
	}
	if e.State().Orders[0].Status != OrderPending {
		t.Errorf("snapshot orders alias live state")
	}
	if e.State().Extended.SVT.Converted {
		t.Errorf("snapshot extended state aliases live state")
	}

	// A fresh engine hydrated from a clean snapshot matches the original.
	clean := e.Snapshot()
	e2 := newEngine(t, "teen_svt_complex_v1")
	e2.Hydrate(clean)
	st := e2.State()
	if st.StageID != "arrival" || len(st.Orders) != 1 || !st.Findings["cardiac_exam"] {
		t.Errorf("hydrated state = %+v", st)
	}
	if len(st.PendingEffects) != 1 || st.NextEffectSeq != 1 {
		t.Errorf("pending effects not restored: %d effects, seq %d", len(st.PendingEffects), st.NextEffectSeq)
	}
	if st.Extended == nil || st.Extended.SVT == nil {
		t.Fatalf("extended state lost through hydration")
	}
}

func TestHydrate_DefaultsMissingFields(t *testing.T) {
	e := newEngine(t, "child_asthma_v1")
	e.Hydrate(State{ScenarioID: "child_asthma_v1", StageID: "arrival"})
	if e.State().Findings == nil {
		t.Errorf("Hydrate left Findings nil")
	}
	if e.State().NextOrderID != 1 {
		t.Errorf("NextOrderID = %d, want default 1", e.State().NextOrderID)
	}
}

func TestDynamicRhythm(t *testing.T) {
	t.Run("unconverted svt dominates", func(t *testing.T) {
		e := newEngine(t, "teen_svt_complex_v1")
		if got := e.DynamicRhythm(); got != "SVT" {
			t.Errorf("rhythm = %q, want SVT", got)
		}
		e.State().Extended.SVT.Converted = true
		e.SetVitals(Vitals{HR: 90, BP: "108/70", SpO2: 99, RR: 18, Temp: 36.8})
		if got := e.DynamicRhythm(); got != "Normal sinus rhythm" {
			t.Errorf("rhythm after conversion = %q", got)
		}
	})

	t.Run("hr bands", func(t *testing.T) {
		cases := []struct {
			hr   int
			want string
		}{
			{0, "Asystole"},
			{131, "Sinus tachycardia"},
			{130, "Normal sinus rhythm"},
			{60, "Normal sinus rhythm"},
			{59, "Sinus bradycardia"},
		}
		for _, tc := range cases {
			e := newEngine(t, "child_asthma_v1") // AgeChild: 60/130
			e.SetVitals(Vitals{HR: tc.hr, BP: "100/60", SpO2: 98, RR: 20, Temp: 37.0})
			if got := e.DynamicRhythm(); got != tc.want {
				t.Errorf("DynamicRhythm(hr=%d) = %q, want %q", tc.hr, got, tc.want)
			}
		}
	})
}

func TestHRThresholds_UnknownGroupFallsBack(t *testing.T) {
	low, high := HRThresholds("martian")
	wantLow, wantHigh := HRThresholds(AgeChild)
	if low != wantLow || high != wantHigh {
		t.Errorf("fallback thresholds = %d/%d, want child bounds %d/%d", low, high, wantLow, wantHigh)
	}
}

func TestSynthesizeWaveform(t *testing.T) {
	flat := SynthesizeWaveform(0)
	if len(flat) != 128 {
		t.Fatalf("len = %d, want 128", len(flat))
	}
	for _, v := range flat {
		if v != 0 {
			t.Fatalf("asystole waveform not flat: %v", v)
		}
	}

	w := SynthesizeWaveform(120)
	var peak float64
	for _, v := range w {
		if v > peak {
			peak = v
		}
	}
	if peak < 0.9 {
		t.Errorf("waveform peak = %v, want QRS-like spike", peak)
	}
}
