package svt

import (
	"fmt"
	"time"

	"github.com/clinsim/voicegate/internal/scenario/debrief"
)

// earlyECGWindow is the pause-adjusted deadline for the early-ECG bonus.
const earlyECGWindow = 60 * time.Second

// quickConversionWindow is the pause-adjusted deadline for the
// quick-conversion bonus.
const quickConversionWindow = 5 * time.Minute

// delayedTreatmentAfter is when an unconverted run starts incurring the
// delayed-treatment penalty.
const delayedTreatmentAfter = 10 * time.Minute

// checklistItem is one declared checklist entry. Done is a pure predicate
// over the sub-engine state.
type checklistItem struct {
	id          string
	description string
	explanation string
	points      int
	done        func(*State) bool
}

// bonusItem is one declared bonus. Earned receives the state and the
// pause-adjusted elapsed time at scoring.
type bonusItem struct {
	id          string
	description string
	explanation string
	points      int
	earned      func(*State, time.Duration) bool
}

// penaltyItem mirrors bonusItem with negative points.
type penaltyItem struct {
	id          string
	description string
	explanation string
	points      int
	incurred    func(*State, time.Duration) bool
}

// offsetOf returns the pause-adjusted offset of ts within the run,
// subtracting the total paused time accumulated so far. Timeline offsets are
// therefore computed against the final pause ledger, not the ledger as it
// stood at ts.
func (s *State) offsetOf(ts time.Time) time.Duration {
	raw := ts.Sub(s.ScenarioStartedAt)
	paused := time.Duration(s.TotalPausedMs) * time.Millisecond
	adj := raw - paused
	if adj < 0 {
		return 0
	}
	return adj
}

func checklist() []checklistItem {
	return []checklistItem{
		{
			id:          "monitor_attached",
			description: "Attach continuous cardiac monitoring",
			explanation: "SVT diagnosis and treatment response require continuous rhythm monitoring.",
			points:      10,
			done:        func(s *State) bool { return s.MonitorOnTS != nil },
		},
		{
			id:          "iv_access",
			description: "Establish IV access",
			explanation: "Adenosine requires a proximal IV with rapid flush capability.",
			points:      10,
			done:        func(s *State) bool { return s.IVAccessTS != nil },
		},
		{
			id:          "ecg_ordered",
			description: "Obtain a 12-lead ECG",
			explanation: "A 12-lead confirms SVT and excludes wide-complex rhythms before treatment.",
			points:      15,
			done:        func(s *State) bool { return s.ECGOrderedTS != nil },
		},
		{
			id:          "vagal_before_adenosine",
			description: "Attempt vagal manoeuvres before drug therapy",
			explanation: "Vagal manoeuvres are first-line in a stable patient and avoid medication risk.",
			points:      10,
			done: func(s *State) bool {
				if s.VagalAttemptTS == nil {
					return false
				}
				if len(s.AdenosineDoses) == 0 {
					return true
				}
				return s.VagalAttemptTS.Before(s.AdenosineDoses[0].TS)
			},
		},
		{
			id:          "adenosine_given",
			description: "Give adenosine when vagal manoeuvres fail",
			explanation: "Adenosine is the first-line drug for stable SVT refractory to vagal manoeuvres.",
			points:      15,
			done:        func(s *State) bool { return len(s.AdenosineDoses) > 0 },
		},
		{
			id:          "adenosine_correct_dose",
			description: "Dose adenosine correctly for weight",
			explanation: "The first dose targets 0.1 mg/kg (max 6 mg) by weight.",
			points:      15,
			done: func(s *State) bool {
				for _, d := range s.AdenosineDoses {
					if d.DoseMgKg >= underdoseBelowMgKg && d.DoseMgKg <= correctUpToMgKg {
						return true
					}
				}
				return false
			},
		},
		{
			id:          "rapid_push_flush",
			description: "Give adenosine as a rapid push with immediate flush",
			explanation: "Adenosine's half-life is seconds; without a rapid push and flush it never reaches the heart.",
			points:      10,
			done: func(s *State) bool {
				for _, d := range s.AdenosineDoses {
					if d.RapidPush && d.FlushGiven {
						return true
					}
				}
				return false
			},
		},
		{
			id:          "conversion_achieved",
			description: "Convert the rhythm to sinus",
			explanation: "The endpoint of SVT management is restoration of sinus rhythm.",
			points:      15,
			done:        func(s *State) bool { return s.Converted },
		},
	}
}

func bonuses() []bonusItem {
	return []bonusItem{
		{
			id:          "early_ecg",
			description: "ECG obtained within 60 seconds",
			explanation: "Early rhythm confirmation shortens time to definitive treatment.",
			points:      5,
			earned: func(s *State, _ time.Duration) bool {
				return s.ECGOrderedTS != nil && s.offsetOf(*s.ECGOrderedTS) <= earlyECGWindow
			},
		},
		{
			id:          "vagal_conversion",
			description: "Converted with vagal manoeuvres alone",
			explanation: "Conversion without medication is the ideal outcome in a stable patient.",
			points:      10,
			earned: func(s *State, _ time.Duration) bool {
				return s.Converted && s.ConversionMethod == ConversionVagal
			},
		},
		{
			id:          "first_dose_conversion",
			description: "Converted with the first adenosine dose",
			explanation: "A correctly dosed and administered first dose usually converts.",
			points:      10,
			earned: func(s *State, _ time.Duration) bool {
				return s.Converted && s.ConversionMethod == ConversionAdenosineFirst
			},
		},
		{
			id:          "quick_conversion",
			description: "Rhythm converted within 5 minutes",
			explanation: "Short time in SVT limits demand ischaemia and decompensation risk.",
			points:      5,
			earned: func(s *State, _ time.Duration) bool {
				if !s.Converted {
					return false
				}
				for _, ev := range s.TimelineEvents {
					if ev.Type == "treatment" && !ev.Negative && s.offsetOf(ev.TS) <= quickConversionWindow {
						return true
					}
				}
				return false
			},
		},
		{
			id:          "family_communication",
			description: "Kept the patient and parent informed",
			explanation: "Explaining the plan reduces distress and vagal manoeuvre failure.",
			points:      5,
			earned: func(s *State, _ time.Duration) bool {
				return s.Flags.PatientReassured && s.Flags.ParentInformed
			},
		},
	}
}

func penalties() []penaltyItem {
	return []penaltyItem{
		{
			id:          "adenosine_underdose",
			description: "Adenosine underdosed",
			explanation: "Doses below 0.08 mg/kg rarely convert and delay definitive treatment.",
			points:      -5,
			incurred:    func(s *State, _ time.Duration) bool { return s.Flags.Underdose },
		},
		{
			id:          "moderate_overdose",
			description: "Adenosine moderately overdosed",
			explanation: "Doses of 0.15–0.25 mg/kg exceed the target range.",
			points:      -5,
			// Severe supersedes moderate: when the severe predicate holds,
			// this one must not emit.
			incurred: func(s *State, _ time.Duration) bool {
				return s.Flags.ModerateOverdose && !s.Flags.SevereOverdose
			},
		},
		{
			id:          "severe_overdose",
			description: "Adenosine severely overdosed",
			explanation: "Doses above 0.25 mg/kg risk prolonged asystole.",
			points:      -15,
			incurred:    func(s *State, _ time.Duration) bool { return s.Flags.SevereOverdose },
		},
		{
			id:          "unsedated_cardioversion",
			description: "Cardioversion without sedation",
			explanation: "Synchronized cardioversion on a responsive patient requires procedural sedation.",
			points:      -10,
			incurred:    func(s *State, _ time.Duration) bool { return s.Flags.UnsedatedCardioversion },
		},
		{
			id:          "delayed_treatment",
			description: "Prolonged time in SVT without conversion",
			explanation: "More than 10 minutes in SVT without conversion risks decompensation.",
			points:      -10,
			incurred: func(s *State, elapsed time.Duration) bool {
				return !s.Converted && elapsed >= delayedTreatmentAfter
			},
		},
	}
}

// CalculateScore evaluates the declared checklist, bonus, and penalty tables
// against the current state. The result is deterministic for a given state
// and elapsed duration. CurrentScore is updated as a side effect.
func (s *State) CalculateScore(elapsed time.Duration) debrief.ScoreResult {
	var res debrief.ScoreResult

	for _, item := range checklist() {
		achieved := item.done(s)
		res.ChecklistResults = append(res.ChecklistResults, debrief.ChecklistResult{
			ID:          item.id,
			Description: item.description,
			Explanation: item.explanation,
			Points:      item.points,
			Achieved:    achieved,
		})
		if achieved {
			res.ChecklistScore += item.points
		}
	}

	total := res.ChecklistScore
	for _, b := range bonuses() {
		if b.earned(s, elapsed) {
			res.BonusesEarned = append(res.BonusesEarned, debrief.ItemResult{
				ID: b.id, Description: b.description, Explanation: b.explanation, Points: b.points,
			})
			total += b.points
		}
	}
	for _, p := range penalties() {
		if p.incurred(s, elapsed) {
			res.PenaltiesIncurred = append(res.PenaltiesIncurred, debrief.ItemResult{
				ID: p.id, Description: p.description, Explanation: p.explanation, Points: p.points,
			})
			total += p.points
		}
	}

	res.TotalPoints = debrief.Clamp(total)
	res.Grade = debrief.GradeFor(res.TotalPoints)
	res.Passed = res.TotalPoints >= debrief.PassThreshold && s.Converted
	res.Feedback = s.feedback(res)
	s.CurrentScore = res.TotalPoints
	return res
}

// feedback builds the human-readable debrief lines from the score result.
func (s *State) feedback(res debrief.ScoreResult) []string {
	var out []string
	if s.Converted {
		out = append(out, fmt.Sprintf("Rhythm converted to sinus via %s.", s.ConversionMethod))
	} else {
		out = append(out, "The patient remained in SVT; review the escalation pathway.")
	}
	for _, c := range res.ChecklistResults {
		if !c.Achieved {
			out = append(out, fmt.Sprintf("Missed: %s — %s", c.Description, c.Explanation))
		}
	}
	for _, p := range res.PenaltiesIncurred {
		out = append(out, fmt.Sprintf("Penalty: %s — %s", p.Description, p.Explanation))
	}
	return out
}

// Timeline projects the timeline events into debrief entries with
// pause-adjusted offsets.
func (s *State) Timeline() []debrief.TimelineEntry {
	out := make([]debrief.TimelineEntry, 0, len(s.TimelineEvents))
	for _, ev := range s.TimelineEvents {
		out = append(out, debrief.TimelineEntry{
			OffsetSeconds: int(s.offsetOf(ev.TS) / time.Second),
			Type:          ev.Type,
			Description:   ev.Description,
			Negative:      ev.Negative,
		})
	}
	return out
}
