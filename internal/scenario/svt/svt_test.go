package svt

import (
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// A 10 kg patient keeps the mg/kg boundaries clear of the 6 mg absolute cap.
func newState() *State { return New(10, t0) }

func TestHandleAdenosine_DoseClassification(t *testing.T) {
	cases := []struct {
		name     string
		doseMg   float64
		under    bool
		moderate bool
		severe   bool
	}{
		{"underdose below 0.08", 0.7, true, false, false},
		{"correct at 0.08", 0.8, false, false, false},
		{"correct at 0.15", 1.5, false, false, false},
		{"moderate above 0.15", 1.6, false, true, false},
		{"moderate at 0.25", 2.5, false, true, false},
		{"severe above 0.25", 2.6, false, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newState()
			s.HandleAdenosine(t0, tc.doseMg, true, true)
			if s.Flags.Underdose != tc.under {
				t.Errorf("Underdose = %v, want %v", s.Flags.Underdose, tc.under)
			}
			if s.Flags.ModerateOverdose != tc.moderate {
				t.Errorf("ModerateOverdose = %v, want %v", s.Flags.ModerateOverdose, tc.moderate)
			}
			if s.Flags.SevereOverdose != tc.severe {
				t.Errorf("SevereOverdose = %v, want %v", s.Flags.SevereOverdose, tc.severe)
			}
		})
	}
}

func TestHandleAdenosine_AbsoluteMaxIsSevere(t *testing.T) {
	s := New(60, t0) // 6.6 mg is only 0.11 mg/kg here, but above the 6 mg cap
	s.HandleAdenosine(t0, 6.6, true, true)
	if !s.Flags.SevereOverdose {
		t.Errorf("dose above 6 mg did not flag a severe overdose")
	}
}

func TestHandleAdenosine_Conversion(t *testing.T) {
	t.Run("adequate first dose converts", func(t *testing.T) {
		s := newState()
		out := s.HandleAdenosine(t0, 1.0, true, true)
		if !out.Converted || !s.Converted {
			t.Fatalf("adequate first dose did not convert")
		}
		if s.ConversionMethod != ConversionAdenosineFirst {
			t.Errorf("method = %q, want adenosine_first", s.ConversionMethod)
		}
		if s.Phase != PhasePostTreatment {
			t.Errorf("Phase = %q, want post_treatment", s.Phase)
		}
	})

	t.Run("no rapid push means no conversion", func(t *testing.T) {
		s := newState()
		if out := s.HandleAdenosine(t0, 1.0, false, true); out.Converted {
			t.Errorf("slow push converted")
		}
	})

	t.Run("no flush means no conversion", func(t *testing.T) {
		s := newState()
		if out := s.HandleAdenosine(t0, 1.0, true, false); out.Converted {
			t.Errorf("unflushed dose converted")
		}
	})

	t.Run("repeat dose needs 0.20 mg/kg", func(t *testing.T) {
		s := newState()
		s.HandleAdenosine(t0, 0.5, true, true) // underdose, no conversion
		if out := s.HandleAdenosine(t0.Add(time.Minute), 1.5, true, true); out.Converted {
			t.Fatalf("repeat dose below 0.20 mg/kg converted")
		}
		out := s.HandleAdenosine(t0.Add(2*time.Minute), 2.0, true, true)
		if !out.Converted {
			t.Fatalf("adequate repeat dose did not convert")
		}
		if s.ConversionMethod != ConversionAdenosineRepeat {
			t.Errorf("method = %q, want adenosine_repeat", s.ConversionMethod)
		}
	})
}

func TestHandleVagal(t *testing.T) {
	t.Run("ineffective patient never converts", func(t *testing.T) {
		s := newState() // VagalEffective defaults false
		out := s.HandleVagal(t0, true)
		if out.Converted || s.Converted {
			t.Fatalf("vagal converted an ineffective patient")
		}
		if !s.Flags.ValsalvaExplained {
			t.Errorf("explained attempt did not set the flag")
		}
		if s.Phase != PhaseTreatment {
			t.Errorf("Phase = %q, want treatment", s.Phase)
		}
	})

	t.Run("effective patient converts on first attempt only", func(t *testing.T) {
		s := newState()
		s.VagalEffective = true
		if out := s.HandleVagal(t0, false); !out.Converted {
			t.Fatalf("first attempt did not convert an effective patient")
		}
		if s.ConversionMethod != ConversionVagal {
			t.Errorf("method = %q, want vagal", s.ConversionMethod)
		}

		late := newState()
		late.VagalEffective = true
		late.VagalAttempts = 1 // a prior failed attempt on record
		if out := late.HandleVagal(t0, false); out.Converted {
			t.Errorf("second attempt converted")
		}
	})
}

func TestHandleCardioversion(t *testing.T) {
	t.Run("synchronized in window converts", func(t *testing.T) {
		s := newState()
		out := s.HandleCardioversion(t0, 10, true, true) // 1.0 J/kg
		if !out.Converted {
			t.Fatalf("in-window synchronized shock did not convert")
		}
		if s.ConversionMethod != ConversionCardioversion {
			t.Errorf("method = %q", s.ConversionMethod)
		}
		if s.Flags.UnsedatedCardioversion {
			t.Errorf("sedated shock flagged as unsedated")
		}
	})

	t.Run("unsedated shock on a responsive patient is flagged", func(t *testing.T) {
		s := newState()
		s.HandleCardioversion(t0, 10, false, true)
		if !s.Flags.UnsedatedCardioversion {
			t.Errorf("unsedated cardioversion not flagged")
		}
	})

	t.Run("peri-arrest patient needs no sedation", func(t *testing.T) {
		s := newState()
		s.StabilityLevel = 1
		s.HandleCardioversion(t0, 10, false, true)
		if s.Flags.UnsedatedCardioversion {
			t.Errorf("peri-arrest shock flagged as unsedated")
		}
	})

	t.Run("energy outside the window misses", func(t *testing.T) {
		for _, joules := range []float64{4, 25} { // 0.4 and 2.5 J/kg
			s := newState()
			if out := s.HandleCardioversion(t0, joules, true, true); out.Converted {
				t.Errorf("shock at %v J converted outside the window", joules)
			}
		}
	})

	t.Run("unsynchronized shock never converts", func(t *testing.T) {
		s := newState()
		out := s.HandleCardioversion(t0, 10, true, false)
		if out.Converted {
			t.Errorf("unsynchronized shock converted")
		}
		if !out.Negative {
			t.Errorf("unsynchronized shock not marked negative")
		}
	})
}

func TestPauseAdjustedClock(t *testing.T) {
	s := newState()

	s.Pause(t0.Add(30 * time.Second))
	s.Pause(t0.Add(40 * time.Second)) // idempotent
	if !s.Paused() {
		t.Fatalf("Paused() = false after Pause")
	}
	// Elapsed stops accruing while paused.
	if got := s.ElapsedSinceStart(t0.Add(90 * time.Second)); got != 30*time.Second {
		t.Errorf("elapsed while paused = %v, want 30s", got)
	}

	s.Resume(t0.Add(90 * time.Second))
	s.Resume(t0.Add(95 * time.Second)) // idempotent
	if s.Paused() {
		t.Fatalf("Paused() = true after Resume")
	}
	if s.TotalPausedMs != 60_000 {
		t.Errorf("TotalPausedMs = %d, want 60000", s.TotalPausedMs)
	}
	if got := s.ElapsedSinceStart(t0.Add(2 * time.Minute)); got != time.Minute {
		t.Errorf("elapsed after resume = %v, want 1m", got)
	}
}

func TestTick_PhaseProgressionAndDecay(t *testing.T) {
	s := newState()

	// Monitor on advances presentation immediately.
	s.RecordMonitorOn(t0.Add(10 * time.Second))
	if msg := s.Tick(t0.Add(11 * time.Second)); msg == "" || s.Phase != PhaseOnset {
		t.Fatalf("Tick after monitor: msg=%q phase=%q", msg, s.Phase)
	}
	// IV access advances onset.
	s.RecordIVAccess(t0.Add(20 * time.Second))
	s.Tick(t0.Add(21 * time.Second))
	if s.Phase != PhaseInitialManagement {
		t.Fatalf("phase = %q, want initial_management", s.Phase)
	}

	// Unconverted at 8 minutes: stability 2 forces decompensation.
	msg := s.Tick(t0.Add(8 * time.Minute))
	if s.StabilityLevel != 2 || s.Phase != PhaseDecompensating {
		t.Fatalf("stability=%d phase=%q after 8m", s.StabilityLevel, s.Phase)
	}
	if !strings.Contains(msg, "decompensating") {
		t.Errorf("msg = %q", msg)
	}

	// Conversion while decompensating recovers to post-treatment, then
	// resolution after the dwell.
	s.HandleAdenosine(t0.Add(9*time.Minute), 1.0, true, true)
	if s.Phase != PhasePostTreatment {
		t.Fatalf("phase = %q after conversion", s.Phase)
	}
	if s.StabilityLevel != 4 {
		t.Errorf("stability = %d after conversion, want 4", s.StabilityLevel)
	}
	if msg := s.Tick(t0.Add(11 * time.Minute)); !strings.Contains(msg, "resolving") {
		t.Errorf("resolution tick msg = %q", msg)
	}
	if s.Phase != PhaseResolution {
		t.Errorf("phase = %q, want resolution", s.Phase)
	}
}

func TestTick_NoOpWhilePaused(t *testing.T) {
	s := newState()
	s.Pause(t0.Add(time.Second))
	if msg := s.Tick(t0.Add(10 * time.Minute)); msg != "" {
		t.Errorf("paused tick returned %q", msg)
	}
	if s.StabilityLevel != 4 {
		t.Errorf("stability decayed while paused")
	}
}

func TestCalculateScore_IdealRun(t *testing.T) {
	s := newState()
	s.RecordMonitorOn(t0.Add(20 * time.Second))
	s.RecordECGOrdered(t0.Add(40 * time.Second))
	s.RecordIVAccess(t0.Add(60 * time.Second))
	s.HandleVagal(t0.Add(90*time.Second), true)
	s.HandleAdenosine(t0.Add(2*time.Minute), 1.0, true, true)
	s.Flags.PatientReassured = true
	s.Flags.ParentInformed = true

	res := s.CalculateScore(s.ElapsedSinceStart(t0.Add(3 * time.Minute)))

	if !res.Passed {
		t.Errorf("ideal run did not pass")
	}
	if res.Grade != "A" {
		t.Errorf("Grade = %q, want A", res.Grade)
	}
	if res.ChecklistScore != 100 {
		t.Errorf("ChecklistScore = %d, want 100", res.ChecklistScore)
	}
	if res.TotalPoints != 100 {
		t.Errorf("TotalPoints = %d, want clamp at 100", res.TotalPoints)
	}
	if len(res.PenaltiesIncurred) != 0 {
		t.Errorf("penalties = %+v, want none", res.PenaltiesIncurred)
	}
	wantBonuses := map[string]bool{
		"early_ecg": true, "first_dose_conversion": true,
		"quick_conversion": true, "family_communication": true,
	}
	for _, b := range res.BonusesEarned {
		if !wantBonuses[b.ID] {
			t.Errorf("unexpected bonus %q", b.ID)
		}
		delete(wantBonuses, b.ID)
	}
	for id := range wantBonuses {
		t.Errorf("missing bonus %q", id)
	}
	if s.CurrentScore != res.TotalPoints {
		t.Errorf("CurrentScore = %d, want %d", s.CurrentScore, res.TotalPoints)
	}
}

func TestCalculateScore_SevereSupersedesModerate(t *testing.T) {
	s := newState()
	s.HandleAdenosine(t0, 2.0, true, false)                  // moderate, no conversion
	s.HandleAdenosine(t0.Add(time.Minute), 3.0, true, false) // severe

	res := s.CalculateScore(2 * time.Minute)
	var sawModerate, sawSevere bool
	for _, p := range res.PenaltiesIncurred {
		switch p.ID {
		case "moderate_overdose":
			sawModerate = true
		case "severe_overdose":
			sawSevere = true
		}
	}
	if sawModerate {
		t.Errorf("moderate penalty emitted alongside severe")
	}
	if !sawSevere {
		t.Errorf("severe penalty missing")
	}
}

func TestCalculateScore_EarlyECGPauseBoundary(t *testing.T) {
	// ECG ordered at wall-clock 90s. With 35s of prior pause the adjusted
	// offset is 55s (bonus earned); with only 20s it is 70s (denied).
	cases := []struct {
		name     string
		pausedMs int64
		want     bool
	}{
		{"inside window after pause credit", 35_000, true},
		{"outside window", 20_000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newState()
			s.TotalPausedMs = tc.pausedMs
			s.RecordECGOrdered(t0.Add(90 * time.Second))
			res := s.CalculateScore(2 * time.Minute)
			got := false
			for _, b := range res.BonusesEarned {
				if b.ID == "early_ecg" {
					got = true
				}
			}
			if got != tc.want {
				t.Errorf("early_ecg earned = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCalculateScore_DelayedTreatmentPenalty(t *testing.T) {
	s := newState()
	res := s.CalculateScore(11 * time.Minute)
	found := false
	for _, p := range res.PenaltiesIncurred {
		if p.ID == "delayed_treatment" {
			found = true
			if p.Points != -10 {
				t.Errorf("delayed_treatment points = %d, want -10", p.Points)
			}
		}
	}
	if !found {
		t.Errorf("unconverted 11-minute run incurred no delayed-treatment penalty")
	}
	if res.Passed {
		t.Errorf("unconverted run passed")
	}
}

func TestTimeline_PauseAdjustedOffsets(t *testing.T) {
	s := newState()
	s.TotalPausedMs = 30_000
	s.AppendTimeline(t0.Add(100*time.Second), "exam", "cardiac exam performed", false)

	tl := s.Timeline()
	if len(tl) != 1 {
		t.Fatalf("timeline len = %d", len(tl))
	}
	if tl[0].OffsetSeconds != 70 {
		t.Errorf("OffsetSeconds = %d, want 70", tl[0].OffsetSeconds)
	}
}

func TestInterventionMarkers_FirstWriterWins(t *testing.T) {
	s := newState()
	s.RecordIVAccess(t0.Add(10 * time.Second))
	s.RecordIVAccess(t0.Add(60 * time.Second))
	if !s.IVAccessTS.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("IVAccessTS = %v, want first write kept", s.IVAccessTS)
	}
	if len(s.TimelineEvents) != 1 {
		t.Errorf("duplicate marker appended to the timeline")
	}
}
