// Package svt implements the paediatric supraventricular tachycardia
// sub-engine: a phase machine layered under the scenario's stage machine,
// with a dose ledger, cardioversion ledger, pause-adjusted timing, and
// deterministic scoring.
//
// The package is a pure state transformer. It performs no I/O and never reads
// the wall clock itself — every mutating method takes the current time from
// the caller so that replays and tests are deterministic.
package svt

import (
	"fmt"
	"time"
)

// Phase is the SVT sub-state driving finer-grained clinical progression.
type Phase string

const (
	PhasePresentation      Phase = "presentation"
	PhaseOnset             Phase = "svt_onset"
	PhaseInitialManagement Phase = "initial_management"
	PhaseTreatment         Phase = "treatment"
	PhasePostTreatment     Phase = "post_treatment"
	PhaseDecompensating    Phase = "decompensating"
	PhaseResolution        Phase = "resolution"
)

// Rhythm labels used by the sub-engine.
const (
	RhythmSinus = "sinus"
	RhythmSVT   = "svt"
)

// Conversion methods recorded when the rhythm returns to sinus.
const (
	ConversionVagal          = "vagal"
	ConversionAdenosineFirst = "adenosine_first"
	ConversionAdenosineRepeat = "adenosine_repeat"
	ConversionCardioversion  = "cardioversion"
)

// Adenosine dose classification boundaries in mg/kg. The exact values are
// scenario data, not clinical advice.
const (
	underdoseBelowMgKg   = 0.08
	correctUpToMgKg      = 0.15
	moderateUpToMgKg     = 0.25
	firstDoseTargetMgKg  = 0.10
	repeatDoseMinMgKg    = 0.20
	adenosineMaxMg       = 6.0
)

// Synchronized cardioversion converts within this energy window.
const (
	cardioversionMinJPerKg = 0.5
	cardioversionMaxJPerKg = 2.0
)

// Stability decay thresholds (pause-adjusted elapsed time in SVT without
// conversion).
const (
	stabilityDropTo3After = 5 * time.Minute
	stabilityDropTo2After = 8 * time.Minute
	stabilityDropTo1After = 12 * time.Minute
)

// Phase dwell times used by Tick when no intervention forces a transition.
const (
	presentationDwell  = 60 * time.Second
	onsetDwell         = 90 * time.Second
	postTreatmentDwell = 60 * time.Second
)

// AdenosineDose is one entry of the dose ledger.
type AdenosineDose struct {
	TS         time.Time `json:"ts"`
	DoseMg     float64   `json:"doseMg"`
	DoseMgKg   float64   `json:"doseMgKg"`
	DoseNumber int       `json:"doseNumber"`
	RapidPush  bool      `json:"rapidPush"`
	FlushGiven bool      `json:"flushGiven"`
}

// CardioversionAttempt is one entry of the cardioversion ledger.
type CardioversionAttempt struct {
	TS           time.Time `json:"ts"`
	JoulesPerKg  float64   `json:"joulesPerKg"`
	Sedated      bool      `json:"sedated"`
	Synchronized bool      `json:"synchronized"`
}

// TimelineEvent is an append-only record used to build the debrief timeline.
type TimelineEvent struct {
	TS          time.Time `json:"ts"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Negative    bool      `json:"negative,omitempty"`
}

// Flags collects boolean markers that scoring predicates read.
type Flags struct {
	PatientReassured       bool `json:"patientReassured,omitempty"`
	ParentInformed         bool `json:"parentInformed,omitempty"`
	ValsalvaExplained      bool `json:"valsalvaExplained,omitempty"`
	ReboundSVT             bool `json:"reboundSVT,omitempty"`
	UnsedatedCardioversion bool `json:"unsedatedCardioversion,omitempty"`
	Underdose              bool `json:"underdose,omitempty"`
	ModerateOverdose       bool `json:"moderateOverdose,omitempty"`
	SevereOverdose         bool `json:"severeOverdose,omitempty"`
}

// State is the complete SVT sub-engine state. It serialises with the engine
// snapshot so hydration restores the ledgers and the pause clock.
type State struct {
	Phase            Phase  `json:"phase"`
	StabilityLevel   int    `json:"stabilityLevel"` // 4 = stable … 1 = peri-arrest
	CurrentRhythm    string `json:"currentRhythm"`
	Converted        bool   `json:"converted"`
	ConversionMethod string `json:"conversionMethod,omitempty"`

	WeightKg float64 `json:"weightKg"`

	// VagalEffective comes from scenario data: whether vagal manoeuvres can
	// convert this particular patient.
	VagalEffective bool `json:"vagalEffective"`

	VagalAttempts  int        `json:"vagalAttempts"`
	VagalAttemptTS *time.Time `json:"vagalAttemptTs,omitempty"`

	AdenosineDoses        []AdenosineDose        `json:"adenosineDoses,omitempty"`
	CardioversionAttempts []CardioversionAttempt `json:"cardioversionAttempts,omitempty"`

	IVAccessTS   *time.Time `json:"ivAccessTs,omitempty"`
	MonitorOnTS  *time.Time `json:"monitorOnTs,omitempty"`
	ECGOrderedTS *time.Time `json:"ecgOrderedTs,omitempty"`

	ScenarioStartedAt time.Time  `json:"scenarioStartedAt"`
	ClockPausedAt     *time.Time `json:"scenarioClockPausedAt,omitempty"`
	TotalPausedMs     int64      `json:"totalPausedMs"`

	Flags          Flags           `json:"flags"`
	TimelineEvents []TimelineEvent `json:"timelineEvents,omitempty"`
	RuleTriggers   []string        `json:"ruleTriggers,omitempty"`
	CurrentScore   int             `json:"currentScore"`
}

// New creates SVT state for a patient of the given weight, starting at the
// presentation phase in SVT rhythm.
func New(weightKg float64, startedAt time.Time) *State {
	return &State{
		Phase:             PhasePresentation,
		StabilityLevel:    4,
		CurrentRhythm:     RhythmSVT,
		WeightKg:          weightKg,
		ScenarioStartedAt: startedAt,
	}
}

// ── Pause-adjusted clock ───────────────────────────────────────────────────────

// Pause stops the scenario clock. Idempotent: pausing an already-paused clock
// is a no-op.
func (s *State) Pause(now time.Time) {
	if s.ClockPausedAt != nil {
		return
	}
	t := now
	s.ClockPausedAt = &t
}

// Resume restarts the scenario clock, folding the paused interval into
// TotalPausedMs. Idempotent.
func (s *State) Resume(now time.Time) {
	if s.ClockPausedAt == nil {
		return
	}
	s.TotalPausedMs += now.Sub(*s.ClockPausedAt).Milliseconds()
	s.ClockPausedAt = nil
}

// Paused reports whether the scenario clock is currently stopped.
func (s *State) Paused() bool { return s.ClockPausedAt != nil }

// ElapsedSinceStart returns wall-clock elapsed minus total paused time. All
// time-based scoring uses this value. It is non-decreasing and its rate is
// zero while paused.
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

// ── Intervention markers ───────────────────────────────────────────────────────

// RecordIVAccess marks IV placement. First writer wins.
func (s *State) RecordIVAccess(now time.Time) {
	if s.IVAccessTS == nil {
		t := now
		s.IVAccessTS = &t
		s.appendTimeline(now, "intervention", "IV access established", false)
	}
}

// RecordMonitorOn marks the cardiac monitor being attached.
func (s *State) RecordMonitorOn(now time.Time) {
	if s.MonitorOnTS == nil {
		t := now
		s.MonitorOnTS = &t
		s.appendTimeline(now, "intervention", "cardiac monitor attached", false)
	}
}

// RecordECGOrdered marks the first 12-lead ECG order. The pause-adjusted
// offset at this instant drives the early-ECG bonus.
func (s *State) RecordECGOrdered(now time.Time) {
	if s.ECGOrderedTS == nil {
		t := now
		s.ECGOrderedTS = &t
		s.appendTimeline(now, "order", "12-lead ECG ordered", false)
	}
}

// ── Treatments ─────────────────────────────────────────────────────────────────

// TreatmentOutcome reports what a treatment did to the patient.
type TreatmentOutcome struct {
	Converted   bool
	NewRhythm   string
	Description string
	Negative    bool
}

// HandleVagal records a vagal manoeuvre attempt. Whether it converts is
// scenario data (VagalEffective); when effective, only the first attempt
// converts.
func (s *State) HandleVagal(now time.Time, explained bool) TreatmentOutcome {
	s.VagalAttempts++
	t := now
	s.VagalAttemptTS = &t
	if explained {
		s.Flags.ValsalvaExplained = true
	}
	s.enterTreatmentPhase()

	if s.VagalEffective && s.VagalAttempts == 1 && !s.Converted {
		s.convert(now, ConversionVagal)
		s.appendTimeline(now, "treatment", "vagal manoeuvre converted rhythm to sinus", false)
		return TreatmentOutcome{Converted: true, NewRhythm: RhythmSinus,
			Description: "rhythm converts to sinus after vagal manoeuvre"}
	}

	s.appendTimeline(now, "treatment",
		fmt.Sprintf("vagal manoeuvre attempt %d, no conversion", s.VagalAttempts), false)
	return TreatmentOutcome{NewRhythm: s.CurrentRhythm,
		Description: "no change in rhythm after vagal manoeuvre"}
}

// HandleAdenosine records an adenosine dose, classifies it against the
// weight-based thresholds, and converts the rhythm when the dose is adequate.
// Dose classification:
//
//	< 0.08 mg/kg           underdose
//	0.08–0.15 mg/kg        correct
//	0.15–0.25 mg/kg        moderate overdose
//	> 0.25 mg/kg           severe overdose (supersedes moderate)
//
// A dose converts when given rapid-push with a flush at ≥ 0.08 mg/kg for the
// first dose, or ≥ 0.20 mg/kg for repeat doses.
func (s *State) HandleAdenosine(now time.Time, doseMg float64, rapidPush, flush bool) TreatmentOutcome {
	mgKg := 0.0
	if s.WeightKg > 0 {
		mgKg = doseMg / s.WeightKg
	}
	dose := AdenosineDose{
		TS:         now,
		DoseMg:     doseMg,
		DoseMgKg:   mgKg,
		DoseNumber: len(s.AdenosineDoses) + 1,
		RapidPush:  rapidPush,
		FlushGiven: flush,
	}
	s.AdenosineDoses = append(s.AdenosineDoses, dose)
	s.enterTreatmentPhase()

	switch {
	case mgKg < underdoseBelowMgKg:
		s.Flags.Underdose = true
		s.trigger("adenosine.underdose")
	case mgKg > moderateUpToMgKg:
		s.Flags.SevereOverdose = true
		s.trigger("adenosine.severe_overdose")
	case mgKg > correctUpToMgKg:
		s.Flags.ModerateOverdose = true
		s.trigger("adenosine.moderate_overdose")
	}
	if doseMg > adenosineMaxMg {
		s.Flags.SevereOverdose = true
		s.trigger("adenosine.above_max_mg")
	}

	threshold := underdoseBelowMgKg
	if dose.DoseNumber > 1 {
		threshold = repeatDoseMinMgKg
	}
	adequate := rapidPush && flush && mgKg >= threshold

	if adequate && !s.Converted {
		method := ConversionAdenosineFirst
		if dose.DoseNumber > 1 {
			method = ConversionAdenosineRepeat
		}
		s.convert(now, method)
		s.appendTimeline(now, "treatment",
			fmt.Sprintf("adenosine %.2f mg/kg converted rhythm to sinus (dose %d)", mgKg, dose.DoseNumber), false)
		return TreatmentOutcome{Converted: true, NewRhythm: RhythmSinus,
			Description: "rhythm converts to sinus after adenosine"}
	}

	neg := s.Flags.SevereOverdose || s.Flags.Underdose
	s.appendTimeline(now, "treatment",
		fmt.Sprintf("adenosine %.2f mg/kg given (dose %d), no conversion", mgKg, dose.DoseNumber), neg)
	return TreatmentOutcome{NewRhythm: s.CurrentRhythm, Negative: neg,
		Description: "no sustained conversion after adenosine"}
}

// HandleCardioversion records a cardioversion attempt. Synchronized shocks in
// the 0.5–2 J/kg window convert unconditionally. Shocking a responsive
// patient without sedation sets the unsedated-cardioversion flag.
func (s *State) HandleCardioversion(now time.Time, joules float64, sedated, synchronized bool) TreatmentOutcome {
	jPerKg := 0.0
	if s.WeightKg > 0 {
		jPerKg = joules / s.WeightKg
	}
	s.CardioversionAttempts = append(s.CardioversionAttempts, CardioversionAttempt{
		TS:           now,
		JoulesPerKg:  jPerKg,
		Sedated:      sedated,
		Synchronized: synchronized,
	})
	s.enterTreatmentPhase()

	// Responsive means not peri-arrest.
	if !sedated && s.StabilityLevel > 1 {
		s.Flags.UnsedatedCardioversion = true
		s.trigger("cardioversion.unsedated")
		s.appendTimeline(now, "treatment", "cardioversion performed without sedation on a responsive patient", true)
	}

	if synchronized && jPerKg >= cardioversionMinJPerKg && jPerKg <= cardioversionMaxJPerKg && !s.Converted {
		s.convert(now, ConversionCardioversion)
		s.appendTimeline(now, "treatment",
			fmt.Sprintf("synchronized cardioversion at %.1f J/kg converted rhythm to sinus", jPerKg), false)
		return TreatmentOutcome{Converted: true, NewRhythm: RhythmSinus,
			Description: "rhythm converts to sinus after synchronized cardioversion"}
	}

	s.appendTimeline(now, "treatment",
		fmt.Sprintf("cardioversion at %.1f J/kg, no conversion", jPerKg), !synchronized)
	return TreatmentOutcome{NewRhythm: s.CurrentRhythm, Negative: !synchronized,
		Description: "no conversion after cardioversion attempt"}
}

// convert transitions the rhythm to sinus and moves to post_treatment.
func (s *State) convert(now time.Time, method string) {
	s.Converted = true
	s.ConversionMethod = method
	s.CurrentRhythm = RhythmSinus
	s.StabilityLevel = 4
	s.Phase = PhasePostTreatment
	s.trigger("rhythm.converted." + method)
}

// enterTreatmentPhase advances pre-treatment phases to treatment.
func (s *State) enterTreatmentPhase() {
	switch s.Phase {
	case PhasePresentation, PhaseOnset, PhaseInitialManagement:
		s.Phase = PhaseTreatment
	}
}

// ── Phase tick ─────────────────────────────────────────────────────────────────

// Tick advances the phase machine and the stability decay. It is called from
// the orchestrator heartbeat and returns a human-readable description of the
// transition, or "" when nothing changed. Ticks while paused are no-ops.
func (s *State) Tick(now time.Time) string {
	if s.Paused() {
		return ""
	}
	elapsed := s.ElapsedSinceStart(now)

	if !s.Converted {
		prev := s.StabilityLevel
		switch {
		case elapsed >= stabilityDropTo1After:
			s.StabilityLevel = 1
		case elapsed >= stabilityDropTo2After:
			s.StabilityLevel = 2
		case elapsed >= stabilityDropTo3After:
			s.StabilityLevel = 3
		}
		if s.StabilityLevel < prev {
			s.appendTimeline(now, "status",
				fmt.Sprintf("patient stability declined to level %d", s.StabilityLevel), true)
		}
		if s.StabilityLevel <= 2 && s.Phase != PhaseDecompensating && s.Phase != PhaseResolution {
			s.Phase = PhaseDecompensating
			s.trigger("phase.decompensating")
			return "patient is decompensating"
		}
	}

	switch s.Phase {
	case PhasePresentation:
		if s.MonitorOnTS != nil || s.ECGOrderedTS != nil || elapsed >= presentationDwell {
			s.Phase = PhaseOnset
			return "SVT recognised on monitoring"
		}
	case PhaseOnset:
		if s.IVAccessTS != nil || elapsed >= onsetDwell {
			s.Phase = PhaseInitialManagement
			return "initial management underway"
		}
	case PhasePostTreatment:
		if s.Converted && now.Sub(s.lastConversionTS()) >= postTreatmentDwell {
			s.Phase = PhaseResolution
			s.trigger("phase.resolution")
			return "sinus rhythm sustained, scenario resolving"
		}
	case PhaseDecompensating:
		if s.Converted {
			s.Phase = PhasePostTreatment
			return "converted while decompensating"
		}
	}
	return ""
}

// lastConversionTS finds the timeline timestamp of the conversion event.
func (s *State) lastConversionTS() time.Time {
	for i := len(s.TimelineEvents) - 1; i >= 0; i-- {
		if s.TimelineEvents[i].Type == "treatment" && !s.TimelineEvents[i].Negative {
			return s.TimelineEvents[i].TS
		}
	}
	return s.ScenarioStartedAt
}

// ── Bookkeeping ────────────────────────────────────────────────────────────────

func (s *State) appendTimeline(now time.Time, typ, desc string, negative bool) {
	s.TimelineEvents = append(s.TimelineEvents, TimelineEvent{
		TS:          now,
		Type:        typ,
		Description: desc,
		Negative:    negative,
	})
}

// AppendTimeline records a caller-supplied timeline event (e.g. exam
// performed, parent informed).
func (s *State) AppendTimeline(now time.Time, typ, desc string, negative bool) {
	s.appendTimeline(now, typ, desc, negative)
}

func (s *State) trigger(rule string) {
	s.RuleTriggers = append(s.RuleTriggers, rule)
}
