package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clinsim/voicegate/internal/cost"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/resilience"
	"github.com/clinsim/voicegate/internal/scenario/debrief"
	"github.com/clinsim/voicegate/pkg/provider/llm"
)

// minDebriefTurns and minDebriefEvents gate the debrief: a run with almost no
// interaction gets a canned notice instead of a hallucinated analysis.
const (
	minDebriefTurns  = 3
	minDebriefEvents = 3
)

// handleAnalyzeTranscript produces the end-of-session debrief. Complex
// scenarios score deterministically through their sub-engine checklist;
// simple scenarios get an LLM-written analysis. The result goes to the
// requester only.
func (o *Orchestrator) handleAnalyzeTranscript(ctx context.Context, c *gateway.Client, msg *gateway.Inbound) {
	rt := o.runtime(msg.SessionID)
	if rt == nil {
		_ = c.SendJSON(gateway.NewError("no active scenario"))
		return
	}

	lock := o.deps.Locks.Get(msg.SessionID)
	_ = lock.With(ctx, "analyze_transcript", func() error {
		now := o.now()
		ext := rt.Engine.State().Extended

		switch {
		case ext != nil && ext.SVT != nil:
			timeline := ext.SVT.Timeline()
			if tooLittleInteraction(msg.Turns, len(timeline)) {
				return c.SendJSON(o.notEnoughInteraction(msg.SessionID))
			}
			score := ext.SVT.CalculateScore(ext.SVT.ElapsedSinceStart(now))
			return c.SendJSON(o.complexDebrief(ctx, msg.SessionID, rt, msg.Turns, score, timeline))

		case ext != nil && ext.Myocarditis != nil:
			timeline := ext.Myocarditis.Timeline()
			if tooLittleInteraction(msg.Turns, len(timeline)) {
				return c.SendJSON(o.notEnoughInteraction(msg.SessionID))
			}
			score := ext.Myocarditis.CalculateScore(ext.Myocarditis.ElapsedSinceStart(now))
			return c.SendJSON(o.complexDebrief(ctx, msg.SessionID, rt, msg.Turns, score, timeline))

		default:
			recent := o.deps.Events.Recent(msg.SessionID, 50)
			if tooLittleInteraction(msg.Turns, len(recent)) {
				return c.SendJSON(gateway.AnalysisResult{
					Type: gateway.TypeAnalysisResult, SessionID: msg.SessionID,
					Summary: "Not enough interaction to analyze yet. Work through the case and try again.",
				})
			}
			return c.SendJSON(o.simpleAnalysis(ctx, msg.SessionID, rt, msg.Turns))
		}
	})
}

func tooLittleInteraction(turns []gateway.TranscriptTurn, timelineEvents int) bool {
	return len(turns) < minDebriefTurns && timelineEvents < minDebriefEvents
}

func (o *Orchestrator) notEnoughInteraction(sessionID string) gateway.ComplexDebriefResult {
	return gateway.ComplexDebriefResult{
		Type: gateway.TypeComplexDebriefResult, SessionID: sessionID,
		Summary: "Not enough interaction to score yet. Work through the case and try again.",
		Grade:   "incomplete",
	}
}

// complexDebrief maps a deterministic score onto the wire shape and, when an
// LLM is available, adds a narrative summary on top. The score itself never
// depends on the model.
func (o *Orchestrator) complexDebrief(ctx context.Context, sessionID string, rt *Runtime, turns []gateway.TranscriptTurn, score debrief.ScoreResult, timeline []debrief.TimelineEntry) gateway.ComplexDebriefResult {
	res := gateway.ComplexDebriefResult{
		Type:                     gateway.TypeComplexDebriefResult,
		SessionID:                sessionID,
		Passed:                   score.Passed,
		Grade:                    score.Grade,
		ChecklistScore:           score.ChecklistScore,
		TotalPoints:              score.TotalPoints,
		ScenarioSpecificFeedback: score.Feedback,
	}
	for _, cr := range score.ChecklistResults {
		res.ChecklistResults = append(res.ChecklistResults, gateway.DebriefItem{
			ID: cr.ID, Description: cr.Description, Explanation: cr.Explanation,
			Points: cr.Points, Achieved: cr.Achieved,
		})
	}
	for _, b := range score.BonusesEarned {
		res.Bonuses = append(res.Bonuses, gateway.DebriefItem{
			ID: b.ID, Description: b.Description, Explanation: b.Explanation,
			Points: b.Points, Achieved: true,
		})
	}
	for _, p := range score.PenaltiesIncurred {
		res.Penalties = append(res.Penalties, gateway.DebriefItem{
			ID: p.ID, Description: p.Description, Explanation: p.Explanation,
			Points: p.Points, Achieved: true,
		})
	}
	for _, t := range timeline {
		res.Timeline = append(res.Timeline, gateway.DebriefTimelineEntry{
			OffsetSeconds: t.OffsetSeconds, EventType: t.Type,
			Description: t.Description, Negative: t.Negative,
		})
	}

	res.Summary = o.debriefSummary(ctx, rt, turns, score)
	return res
}

// debriefSummary asks the LLM for a short narrative over the deterministic
// score. Failure leaves the summary empty; the scored result stands alone.
func (o *Orchestrator) debriefSummary(ctx context.Context, rt *Runtime, turns []gateway.TranscriptTurn, score debrief.ScoreResult) string {
	if o.deps.LLM == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s. Grade %s, %d points, passed=%v.\n",
		rt.Engine.Definition().Name, score.Grade, score.TotalPoints, score.Passed)
	for _, cr := range score.ChecklistResults {
		fmt.Fprintf(&b, "- %s: achieved=%v\n", cr.Description, cr.Achieved)
	}
	writeTranscript(&b, turns)

	res, err := resilience.Retry(ctx, resilience.DefaultPolicy(), "llm.debrief",
		func(c context.Context) (llm.Result, error) {
			return o.deps.LLM.Complete(c,
				"You are a paediatric simulation instructor. Write a 3-4 sentence debrief "+
					"summary of this scored run. Do not change or restate the numeric score.",
				[]llm.Message{{Role: "user", Content: b.String()}})
		})
	if err != nil {
		return ""
	}
	rt.Cost.AddUsage(costUsage(res.Usage))
	return strings.TrimSpace(res.Text)
}

// simpleAnalysis is the LLM-only debrief for scenarios without a scoring
// sub-engine. The model is asked for structured JSON; unparseable output
// falls back to a plain summary.
func (o *Orchestrator) simpleAnalysis(ctx context.Context, sessionID string, rt *Runtime, turns []gateway.TranscriptTurn) gateway.AnalysisResult {
	out := gateway.AnalysisResult{Type: gateway.TypeAnalysisResult, SessionID: sessionID}
	if o.deps.LLM == nil {
		out.Summary = "Analysis is unavailable: no language model is configured."
		return out
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s. Stage reached: %s. Elapsed: %s.\n",
		rt.Engine.Definition().Name, rt.Engine.State().StageID,
		rt.Engine.Elapsed(o.now()).Round(time.Second))
	writeTreatments(&b, rt)
	writeTranscript(&b, turns)

	res, err := resilience.Retry(ctx, resilience.DefaultPolicy(), "llm.analysis",
		func(c context.Context) (llm.Result, error) {
			return o.deps.LLM.Complete(c,
				`You are a paediatric simulation instructor reviewing a training run. `+
					`Respond with JSON only: {"summary": string, "strengths": [string], `+
					`"opportunities": [string], "teachingPoints": [string]}.`,
				[]llm.Message{{Role: "user", Content: b.String()}})
		})
	if err != nil {
		out.Summary = "Analysis failed; please try again."
		return out
	}
	rt.Cost.AddUsage(costUsage(res.Usage))

	var parsed struct {
		Summary        string   `json:"summary"`
		Strengths      []string `json:"strengths"`
		Opportunities  []string `json:"opportunities"`
		TeachingPoints []string `json:"teachingPoints"`
	}
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &parsed); err != nil || parsed.Summary == "" {
		out.Summary = strings.TrimSpace(res.Text)
		return out
	}
	out.Summary = parsed.Summary
	out.Strengths = parsed.Strengths
	out.Opportunities = parsed.Opportunities
	out.TeachingPoints = parsed.TeachingPoints
	return out
}

func writeTranscript(b *strings.Builder, turns []gateway.TranscriptTurn) {
	if len(turns) == 0 {
		return
	}
	b.WriteString("Transcript:\n")
	for _, t := range turns {
		fmt.Fprintf(b, "%s: %s\n", t.Speaker, t.Text)
	}
}

func writeTreatments(b *strings.Builder, rt *Runtime) {
	snap := rt.Engine.Snapshot()
	if len(snap.TreatmentHistory) == 0 {
		return
	}
	b.WriteString("Treatments given:\n")
	for _, tr := range snap.TreatmentHistory {
		fmt.Fprintf(b, "- %s\n", tr.Type)
	}
}

// extractJSON trims model chatter around a JSON object, including markdown
// fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func costUsage(u llm.Usage) cost.Usage {
	return cost.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}
