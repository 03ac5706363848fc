// Package debrief defines the scoring result types shared by the complex
// scenario sub-engines. Checklist, bonus, and penalty items are declared data
// owned by each sub-engine; this package fixes the result shape and the grade
// bands so every complex scenario debriefs the same way.
package debrief

// ChecklistResult reports one checklist item and whether it was achieved.
type ChecklistResult struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Explanation string `json:"explanation"`
	Points      int    `json:"points"`
	Achieved    bool   `json:"achieved"`
}

// ItemResult reports one earned bonus or incurred penalty. Penalty points
// are negative.
type ItemResult struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Explanation string `json:"explanation"`
	Points      int    `json:"points"`
}

// TimelineEntry is one event of the debrief timeline, in chronological order.
type TimelineEntry struct {
	OffsetSeconds int    `json:"offsetSeconds"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	Negative      bool   `json:"negative,omitempty"`
}

// ScoreResult is the deterministic outcome of scoring a complex scenario run.
type ScoreResult struct {
	Passed            bool              `json:"passed"`
	Grade             string            `json:"grade"`
	ChecklistScore    int               `json:"checklistScore"`
	ChecklistResults  []ChecklistResult `json:"checklistResults"`
	BonusesEarned     []ItemResult      `json:"bonusesEarned"`
	PenaltiesIncurred []ItemResult      `json:"penaltiesIncurred"`
	TotalPoints       int               `json:"totalPoints"`
	Feedback          []string          `json:"feedback"`
}

// Grade bands over TotalPoints. Fixed across all complex scenarios.
const (
	gradeA = 90
	gradeB = 80
	gradeC = 70
	gradeD = 60
)

// PassThreshold is the minimum TotalPoints for a passing run.
const PassThreshold = gradeC

// GradeFor maps total points onto the A–F bands.
func GradeFor(points int) string {
	switch {
	case points >= gradeA:
		return "A"
	case points >= gradeB:
		return "B"
	case points >= gradeC:
		return "C"
	case points >= gradeD:
		return "D"
	default:
		return "F"
	}
}

// Clamp bounds total points to [0, 100].
func Clamp(points int) int {
	if points < 0 {
		return 0
	}
	if points > 100 {
		return 100
	}
	return points
}
