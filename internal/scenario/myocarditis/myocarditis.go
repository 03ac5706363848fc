// Package myocarditis implements the paediatric myocarditis sub-engine. It is
// deliberately smaller than the SVT engine: the phase machine tracks
// compensation rather than rhythm, and scoring centres on recognising
// cardiogenic shock and avoiding aggressive fluid resuscitation.
//
// Like package svt, this is a pure state transformer: no I/O, caller-supplied
// timestamps.
package myocarditis

import (
	"fmt"
	"time"

	"github.com/clinsim/voicegate/internal/scenario/debrief"
)

// Phase tracks the patient's compensation trajectory.
type Phase string

const (
	PhasePresentation   Phase = "presentation"
	PhaseCompensated    Phase = "compensated"
	PhaseDecompensating Phase = "decompensating"
	PhaseArrestRisk     Phase = "arrest_risk"
	PhaseStabilized     Phase = "stabilized"
)

// Fluid bolus caution threshold: boluses above this per-kg volume in a
// failing heart flag aggressive fluids.
const cautiousBolusMaxMLKg = 10.0

// Decompensation timing without inotropic support.
const (
	decompensateAfter = 6 * time.Minute
	arrestRiskAfter   = 12 * time.Minute
)

// FluidBolus is one entry of the fluid ledger.
type FluidBolus struct {
	TS     time.Time `json:"ts"`
	VolML  float64   `json:"volumeMl"`
	MLPerKg float64  `json:"mlPerKg"`
}

// InotropeDose is one entry of the inotrope ledger.
type InotropeDose struct {
	TS    time.Time `json:"ts"`
	Drug  string    `json:"drug"`
	Note  string    `json:"note,omitempty"`
}

// TimelineEvent mirrors the SVT timeline shape.
type TimelineEvent struct {
	TS          time.Time `json:"ts"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Negative    bool      `json:"negative,omitempty"`
}

// Flags collects markers read by the scoring predicates.
type Flags struct {
	EchoOrdered      bool `json:"echoOrdered,omitempty"`
	ICUConsulted     bool `json:"icuConsulted,omitempty"`
	AggressiveFluids bool `json:"aggressiveFluids,omitempty"`
	ParentInformed   bool `json:"parentInformed,omitempty"`
}

// State is the myocarditis sub-engine state.
type State struct {
	Phase          Phase   `json:"phase"`
	StabilityLevel int     `json:"stabilityLevel"`
	WeightKg       float64 `json:"weightKg"`

	LactateMmolL float64 `json:"lactateMmolL"`
	TroponinNgL  float64 `json:"troponinNgL"`

	FluidBoluses []FluidBolus   `json:"fluidBoluses,omitempty"`
	Inotropes    []InotropeDose `json:"inotropes,omitempty"`

	ScenarioStartedAt time.Time  `json:"scenarioStartedAt"`
	ClockPausedAt     *time.Time `json:"scenarioClockPausedAt,omitempty"`
	TotalPausedMs     int64      `json:"totalPausedMs"`

	Flags          Flags           `json:"flags"`
	TimelineEvents []TimelineEvent `json:"timelineEvents,omitempty"`
	CurrentScore   int             `json:"currentScore"`
}

// New creates myocarditis state for a patient of the given weight.
func New(weightKg float64, startedAt time.Time) *State {
	return &State{
		Phase:             PhasePresentation,
		StabilityLevel:    3,
		WeightKg:          weightKg,
		LactateMmolL:      3.2,
		TroponinNgL:       480,
		ScenarioStartedAt: startedAt,
	}
}

// Pause stops the scenario clock. Idempotent.
func (s *State) Pause(now time.Time) {
	if s.ClockPausedAt == nil {
		t := now
		s.ClockPausedAt = &t
	}
}

// Resume restarts the clock, accumulating the paused interval. Idempotent.
func (s *State) Resume(now time.Time) {
	if s.ClockPausedAt != nil {
		s.TotalPausedMs += now.Sub(*s.ClockPausedAt).Milliseconds()
		s.ClockPausedAt = nil
	}
}

// Paused reports whether the scenario clock is stopped.
func (s *State) Paused() bool { return s.ClockPausedAt != nil }

// ElapsedSinceStart returns the pause-adjusted elapsed time.
func (s *State) ElapsedSinceStart(now time.Time) time.Duration {
	paused := time.Duration(s.TotalPausedMs) * time.Millisecond
	if s.ClockPausedAt != nil {
		paused += now.Sub(*s.ClockPausedAt)
	}
	e := now.Sub(s.ScenarioStartedAt) - paused
	if e < 0 {
		return 0
	}
	return e
}

// HandleFluidBolus records a fluid bolus. Boluses above 10 mL/kg flag
// aggressive fluids and worsen lactate; cautious boluses are tolerated.
func (s *State) HandleFluidBolus(now time.Time, volumeML float64) string {
	mlKg := 0.0
	if s.WeightKg > 0 {
		mlKg = volumeML / s.WeightKg
	}
	s.FluidBoluses = append(s.FluidBoluses, FluidBolus{TS: now, VolML: volumeML, MLPerKg: mlKg})

	if mlKg > cautiousBolusMaxMLKg {
		s.Flags.AggressiveFluids = true
		s.LactateMmolL += 1.0
		if s.StabilityLevel > 1 {
			s.StabilityLevel--
		}
		s.appendTimeline(now, "treatment",
			fmt.Sprintf("fluid bolus %.0f mL/kg worsened failure signs", mlKg), true)
		return "work of breathing increases after the bolus"
	}

	s.appendTimeline(now, "treatment",
		fmt.Sprintf("cautious fluid bolus %.0f mL/kg given", mlKg), false)
	return "perfusion transiently improves"
}

// HandleInotrope records an inotrope start and stabilises the patient.
func (s *State) HandleInotrope(now time.Time, drug string) string {
	s.Inotropes = append(s.Inotropes, InotropeDose{TS: now, Drug: drug})
	s.StabilityLevel = 4
	if s.LactateMmolL > 1.5 {
		s.LactateMmolL -= 1.0
	}
	s.Phase = PhaseStabilized
	s.appendTimeline(now, "treatment", fmt.Sprintf("%s infusion started, perfusion improving", drug), false)
	return "perfusion and mentation improve on the infusion"
}

// RecordEcho marks the echocardiogram order.
func (s *State) RecordEcho(now time.Time) {
	if !s.Flags.EchoOrdered {
		s.Flags.EchoOrdered = true
		s.appendTimeline(now, "order", "bedside echocardiogram ordered", false)
	}
}

// RecordICUConsult marks the ICU consult.
func (s *State) RecordICUConsult(now time.Time) {
	if !s.Flags.ICUConsulted {
		s.Flags.ICUConsulted = true
		s.appendTimeline(now, "communication", "paediatric ICU consulted", false)
	}
}

// Tick advances the compensation phases without inotropic support.
func (s *State) Tick(now time.Time) string {
	if s.Paused() || s.Phase == PhaseStabilized {
		return ""
	}
	elapsed := s.ElapsedSinceStart(now)

	switch {
	case elapsed >= arrestRiskAfter && s.Phase != PhaseArrestRisk:
		s.Phase = PhaseArrestRisk
		s.StabilityLevel = 1
		s.LactateMmolL += 2.0
		s.appendTimeline(now, "status", "peri-arrest: bradycardia and hypotension", true)
		return "the patient is peri-arrest"
	case elapsed >= decompensateAfter && s.Phase != PhaseDecompensating && s.Phase != PhaseArrestRisk:
		s.Phase = PhaseDecompensating
		if s.StabilityLevel > 2 {
			s.StabilityLevel = 2
		}
		s.appendTimeline(now, "status", "progressive cardiogenic shock", true)
		return "the patient is decompensating"
	case s.Phase == PhasePresentation && elapsed >= 90*time.Second:
		s.Phase = PhaseCompensated
		return "compensated cardiogenic shock recognised"
	}
	return ""
}

// CalculateScore scores the run against the declared checklist and penalty
// tables. Deterministic for a given state and elapsed duration.
func (s *State) CalculateScore(elapsed time.Duration) debrief.ScoreResult {
	var res debrief.ScoreResult

	checks := []struct {
		id, desc, expl string
		points         int
		done           bool
	}{
		{"echo_ordered", "Order a bedside echocardiogram",
			"Echo distinguishes myocarditis from sepsis and guides fluid strategy.", 20, s.Flags.EchoOrdered},
		{"cautious_fluids", "Limit fluid boluses to ≤ 10 mL/kg",
			"A failing ventricle tolerates volume poorly.", 20, len(s.FluidBoluses) > 0 && !s.Flags.AggressiveFluids},
		{"inotrope_started", "Start inotropic support",
			"Inotropes, not volume, treat cardiogenic shock.", 30, len(s.Inotropes) > 0},
		{"icu_consulted", "Involve the paediatric ICU early",
			"Myocarditis can deteriorate to arrest; ECMO-capable backup is essential.", 20, s.Flags.ICUConsulted},
		{"family_informed", "Keep the family informed",
			"The diagnosis carries major prognostic uncertainty.", 10, s.Flags.ParentInformed},
	}
	for _, c := range checks {
		res.ChecklistResults = append(res.ChecklistResults, debrief.ChecklistResult{
			ID: c.id, Description: c.desc, Explanation: c.expl, Points: c.points, Achieved: c.done,
		})
		if c.done {
			res.ChecklistScore += c.points
		}
	}

	total := res.ChecklistScore
	if s.Phase == PhaseStabilized && elapsed <= 8*time.Minute {
		b := debrief.ItemResult{ID: "early_stabilization",
			Description: "Stabilized within 8 minutes",
			Explanation: "Early inotropic support prevents the arrest-risk phase.",
			Points:      10}
		res.BonusesEarned = append(res.BonusesEarned, b)
		total += b.Points
	}
	if s.Flags.AggressiveFluids {
		p := debrief.ItemResult{ID: "aggressive_fluids",
			Description: "Aggressive fluid resuscitation",
			Explanation: "Boluses above 10 mL/kg worsened the failing ventricle.",
			Points:      -15}
		res.PenaltiesIncurred = append(res.PenaltiesIncurred, p)
		total += p.Points
	}
	if s.Phase == PhaseArrestRisk {
		p := debrief.ItemResult{ID: "reached_arrest_risk",
			Description: "Patient reached the peri-arrest phase",
			Explanation: "Recognition or treatment was delayed past the safe window.",
			Points:      -20}
		res.PenaltiesIncurred = append(res.PenaltiesIncurred, p)
		total += p.Points
	}

	res.TotalPoints = debrief.Clamp(total)
	res.Grade = debrief.GradeFor(res.TotalPoints)
	res.Passed = res.TotalPoints >= debrief.PassThreshold && s.Phase == PhaseStabilized
	if s.Phase == PhaseStabilized {
		res.Feedback = append(res.Feedback, "The patient was stabilized on inotropic support.")
	} else {
		res.Feedback = append(res.Feedback, "The patient was not stabilized; review shock recognition and inotrope timing.")
	}
	for _, c := range res.ChecklistResults {
		if !c.Achieved {
			res.Feedback = append(res.Feedback, fmt.Sprintf("Missed: %s — %s", c.Description, c.Explanation))
		}
	}
	s.CurrentScore = res.TotalPoints
	return res
}

// Timeline projects timeline events into debrief entries.
func (s *State) Timeline() []debrief.TimelineEntry {
	out := make([]debrief.TimelineEntry, 0, len(s.TimelineEvents))
	for _, ev := range s.TimelineEvents {
		off := ev.TS.Sub(s.ScenarioStartedAt) - time.Duration(s.TotalPausedMs)*time.Millisecond
		if off < 0 {
			off = 0
		}
		out = append(out, debrief.TimelineEntry{
			OffsetSeconds: int(off / time.Second),
			Type:          ev.Type,
			Description:   ev.Description,
			Negative:      ev.Negative,
		})
	}
	return out
}

func (s *State) appendTimeline(now time.Time, typ, desc string, negative bool) {
	s.TimelineEvents = append(s.TimelineEvents, TimelineEvent{TS: now, Type: typ, Description: desc, Negative: negative})
}
