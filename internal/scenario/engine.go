package scenario

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/clinsim/voicegate/internal/scenario/myocarditis"
	"github.com/clinsim/voicegate/internal/scenario/svt"
)

// ErrUnknownScenario is returned when an engine is requested for an
// unregistered scenario ID.
var ErrUnknownScenario = errors.New("scenario: unknown scenario id")

// Physiological clamp bounds applied to every vitals mutation.
const (
	maxHR   = 300
	maxRR   = 80
	minTemp = 30.0
	maxTemp = 43.0
)

// Engine is the deterministic per-session state machine. It is not safe for
// concurrent use; the orchestrator serialises all access under the session
// state lock.
type Engine struct {
	def *Definition
	st  State
}

// New creates an engine for the given definition, seeding the initial state
// and, for complex scenarios, the extended sub-engine.
func New(def *Definition, now time.Time) *Engine {
	st := State{
		ScenarioID:        def.ID,
		StageID:           def.Stages[0].ID,
		StageIDs:          def.StageIDs(),
		StageEnteredAt:    now,
		ScenarioStartedAt: now,
		Vitals:            def.InitialVitals,
		Findings:          map[string]bool{},
		Demographics:      def.Demographics,
		NextOrderID:       1,
	}
	switch def.ExtendedKind {
	case ExtendedSVT:
		sv := svt.New(def.Demographics.WeightKg, now)
		sv.VagalEffective = def.VagalEffective
		st.Extended = &Extended{SVT: sv}
	case ExtendedMyocarditis:
		st.Extended = &Extended{Myocarditis: myocarditis.New(def.Demographics.WeightKg, now)}
	}
	return &Engine{def: def, st: st}
}

// NewByID creates an engine for a registered scenario ID.
func NewByID(id string, now time.Time) (*Engine, error) {
	def, ok := Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
	return New(def, now), nil
}

// State returns the live state. Callers must hold the session state lock and
// must not retain the pointer across critical sections.
func (e *Engine) State() *State { return &e.st }

// Definition returns the scenario's declared content.
func (e *Engine) Definition() *Definition { return e.def }

// CurrentStage returns the definition of the active stage.
func (e *Engine) CurrentStage() StageDefinition {
	s, ok := e.def.Stage(e.st.StageID)
	if !ok {
		// A hydrated snapshot can only reference declared stages; fall back
		// to the first stage rather than fail.
		return e.def.Stages[0]
	}
	return s
}

// Demographics returns the immutable patient demographics.
func (e *Engine) Demographics() Demographics { return e.st.Demographics }

// PatientWeight returns the patient weight in kilograms.
func (e *Engine) PatientWeight() float64 { return e.st.Demographics.WeightKg }

// ── Intents ───────────────────────────────────────────────────────────────────

// ApplyIntent applies one validated intent to the state and returns the
// events it produced. Unknown or malformed intents mutate nothing and yield a
// single rejected event. Automatic stage transitions are NOT evaluated here;
// the caller runs EvaluateAutomaticTransitions after its batch of intents.
func (e *Engine) ApplyIntent(intent ToolIntent, now time.Time) []Event {
	switch intent.Type {
	case IntentUpdateVitals:
		if intent.Vitals == nil {
			return e.rejected(now, intent, "missing vitals delta")
		}
		e.applyVitalsDelta(*intent.Vitals)
		return []Event{{TS: now, Type: "vitals.updated", Data: map[string]any{
			"hr": e.st.Vitals.HR, "spo2": e.st.Vitals.SpO2, "rr": e.st.Vitals.RR,
		}}}

	case IntentRevealFinding:
		if intent.FindingID == "" {
			return e.rejected(now, intent, "missing finding id")
		}
		e.st.Findings[intent.FindingID] = true
		return []Event{{TS: now, Type: "finding.revealed", Data: map[string]any{"findingId": intent.FindingID}}}

	case IntentApplyTreatment:
		if intent.Treatment == nil || intent.Treatment.Type == "" {
			return e.rejected(now, intent, "missing treatment")
		}
		e.st.TreatmentHistory = append(e.st.TreatmentHistory, Treatment{
			TS: now, Type: intent.Treatment.Type, Note: intent.Treatment.Note,
		})
		return []Event{{TS: now, Type: "treatment.applied", Data: map[string]any{
			"treatmentType": intent.Treatment.Type,
		}}}

	case IntentSubmitOrder:
		if intent.Order == nil || !intent.Order.Type.IsValid() {
			return e.rejected(now, intent, "missing or invalid order type")
		}
		o := Order{
			ID:        e.st.NextOrderID,
			Type:      intent.Order.Type,
			Status:    OrderPending,
			OrderedBy: intent.Order.OrderedBy,
			CreatedAt: now,
		}
		e.st.NextOrderID++
		e.st.Orders = append(e.st.Orders, o)
		return []Event{{TS: now, Type: "order.submitted", Data: map[string]any{
			"orderId": o.ID, "orderType": string(o.Type),
		}}}

	case IntentSetStage:
		if _, ok := e.def.Stage(intent.StageID); !ok {
			return e.rejected(now, intent, "unknown stage id")
		}
		prev := e.st.StageID
		e.st.StageID = intent.StageID
		e.st.StageEnteredAt = now
		return []Event{{TS: now, Type: "stage.set", Data: map[string]any{
			"from": prev, "to": intent.StageID,
		}}}

	default:
		return e.rejected(now, intent, "unknown intent type")
	}
}

func (e *Engine) rejected(now time.Time, intent ToolIntent, reason string) []Event {
	return []Event{{TS: now, Type: "tool.intent.rejected", Data: map[string]any{
		"intentType": string(intent.Type), "reason": reason,
	}}}
}

// applyVitalsDelta applies clamped deltas. BP is replaced, not adjusted.
func (e *Engine) applyVitalsDelta(d VitalsDelta) {
	v := &e.st.Vitals
	if d.HR != nil {
		v.HR = clampInt(v.HR+*d.HR, 0, maxHR)
	}
	if d.SpO2 != nil {
		v.SpO2 = clampInt(v.SpO2+*d.SpO2, 0, 100)
	}
	if d.RR != nil {
		v.RR = clampInt(v.RR+*d.RR, 0, maxRR)
	}
	if d.Temp != nil {
		v.Temp = clampFloat(v.Temp+*d.Temp, minTemp, maxTemp)
	}
	if d.BP != nil {
		v.BP = *d.BP
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ── Transitions ───────────────────────────────────────────────────────────────

// EvaluateAutomaticTransitions consults the current stage's exit rules in
// declared order and advances at most one stage. hints carry the most recent
// action classes (e.g. "treatment") for ActionHint rules. Returns nil when no
// rule matched.
func (e *Engine) EvaluateAutomaticTransitions(now time.Time, hints []string) []Event {
	stage := e.CurrentStage()
	inStage := int(now.Sub(e.st.StageEnteredAt) / time.Second)

	for _, rule := range stage.ExitRules {
		if rule.MinSecondsInStage > 0 && inStage < rule.MinSecondsInStage {
			continue
		}
		if rule.ActionHint != "" && !containsHint(hints, rule.ActionHint) {
			continue
		}
		if rule.Guard != nil && !rule.Guard(&e.st) {
			continue
		}
		prev := e.st.StageID
		e.st.StageID = rule.Next
		e.st.StageEnteredAt = now
		return []Event{{TS: now, Type: "stage.advanced", Data: map[string]any{
			"from": prev, "to": rule.Next, "rule": rule.Description,
		}}}
	}
	return nil
}

func containsHint(hints []string, want string) bool {
	for _, h := range hints {
		if h == want {
			return true
		}
	}
	return false
}

// ── Tick ──────────────────────────────────────────────────────────────────────

// PhaseTick advances the complex sub-engine's phase machine, if any, and
// returns a narration line when the phase changed.
func (e *Engine) PhaseTick(now time.Time) string {
	switch {
	case e.st.Extended == nil:
		return ""
	case e.st.Extended.SVT != nil:
		return e.st.Extended.SVT.Tick(now)
	case e.st.Extended.Myocarditis != nil:
		return e.st.Extended.Myocarditis.Tick(now)
	}
	return ""
}

// Tick advances elapsed time, fires due decay effects in (fireAt, seq) order,
// and evaluates time-based stage transitions (at most one). Called from the
// orchestrator heartbeat.
func (e *Engine) Tick(now time.Time) []Event {
	e.st.ElapsedSeconds = int(e.elapsed(now) / time.Second)

	var events []Event

	if len(e.st.PendingEffects) > 0 {
		due, remaining := splitDue(e.st.PendingEffects, now)
		e.st.PendingEffects = remaining
		for _, eff := range due {
			events = append(events, e.ApplyIntent(eff.Intent, now)...)
		}
	}

	if tr := e.EvaluateAutomaticTransitions(now, nil); tr != nil {
		events = append(events, tr...)
	}
	return events
}

// elapsed returns the pause-adjusted elapsed duration for complex scenarios,
// and plain wall-clock elapsed otherwise.
func (e *Engine) elapsed(now time.Time) time.Duration {
	switch {
	case e.st.Extended == nil:
	case e.st.Extended.SVT != nil:
		return e.st.Extended.SVT.ElapsedSinceStart(now)
	case e.st.Extended.Myocarditis != nil:
		return e.st.Extended.Myocarditis.ElapsedSinceStart(now)
	}
	d := now.Sub(e.st.ScenarioStartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Elapsed exposes the pause-adjusted elapsed duration.
func (e *Engine) Elapsed(now time.Time) time.Duration { return e.elapsed(now) }

// splitDue partitions effects into those due at now (sorted by fireAt, then
// insertion seq) and the rest.
func splitDue(effects []PendingEffect, now time.Time) (due, remaining []PendingEffect) {
	for _, eff := range effects {
		if !eff.FireAt.After(now) {
			due = append(due, eff)
		} else {
			remaining = append(remaining, eff)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].FireAt.Equal(due[j].FireAt) {
			return due[i].FireAt.Before(due[j].FireAt)
		}
		return due[i].Seq < due[j].Seq
	})
	return due, remaining
}

// ScheduleEffect queues a delayed intent, typically a treatment decay.
func (e *Engine) ScheduleEffect(fireAt time.Time, intent ToolIntent) {
	e.st.PendingEffects = append(e.st.PendingEffects, PendingEffect{
		FireAt: fireAt,
		Seq:    e.st.NextEffectSeq,
		Intent: intent,
	})
	e.st.NextEffectSeq++
}

// ── Setters used by handlers after their own transformations ─────────────────

// SetVitals replaces the vitals wholesale, clamping to physiological bounds.
func (e *Engine) SetVitals(v Vitals) {
	v.HR = clampInt(v.HR, 0, maxHR)
	v.SpO2 = clampInt(v.SpO2, 0, 100)
	v.RR = clampInt(v.RR, 0, maxRR)
	v.Temp = clampFloat(v.Temp, minTemp, maxTemp)
	e.st.Vitals = v
}

// SetRhythm sets the short rhythm label shown with telemetry.
func (e *Engine) SetRhythm(label string) { e.st.RhythmSummary = label }

// SetTelemetry toggles monitoring. Enabling appends a telemetry history
// record when the rhythm label changed since the last record.
func (e *Engine) SetTelemetry(on bool, now time.Time) {
	e.st.Telemetry = on
	if on {
		e.AppendTelemetryRecord(now, e.st.RhythmSummary, "telemetry enabled")
	}
}

// SetExam replaces the revealable exam content.
func (e *Engine) SetExam(x Exam) { e.st.Exam = &x }

// AppendTreatment appends to the treatment history.
func (e *Engine) AppendTreatment(now time.Time, treatmentType, note string) {
	e.st.TreatmentHistory = append(e.st.TreatmentHistory, Treatment{TS: now, Type: treatmentType, Note: note})
}

// AppendEKG appends an EKG record, retaining only the most recent 3.
func (e *Engine) AppendEKG(now time.Time, summary, imageURL string) {
	e.st.EKGHistory = append(e.st.EKGHistory, EKGRecord{TS: now, Summary: summary, ImageURL: imageURL})
	if len(e.st.EKGHistory) > 3 {
		e.st.EKGHistory = e.st.EKGHistory[len(e.st.EKGHistory)-3:]
	}
}

// AppendTelemetryRecord appends a telemetry history record only when the
// rhythm label differs from the previous record.
func (e *Engine) AppendTelemetryRecord(now time.Time, rhythm, note string) {
	if n := len(e.st.TelemetryHistory); n > 0 && e.st.TelemetryHistory[n-1].Rhythm == rhythm {
		return
	}
	e.st.TelemetryHistory = append(e.st.TelemetryHistory, TelemetryRecord{TS: now, Rhythm: rhythm, Note: note})
}

// CompleteOrder marks the pending order with the given ID complete, attaching
// the result. Returns false if the order is unknown or already complete.
func (e *Engine) CompleteOrder(id int, result string, now time.Time) bool {
	for i := range e.st.Orders {
		if e.st.Orders[i].ID == id && e.st.Orders[i].Status == OrderPending {
			t := now
			e.st.Orders[i].Status = OrderComplete
			e.st.Orders[i].Result = result
			e.st.Orders[i].CompletedAt = &t
			return true
		}
	}
	return false
}

// PendingOrder returns the oldest pending order of the given type, if any.
func (e *Engine) PendingOrder(t OrderType) (Order, bool) {
	for _, o := range e.st.Orders {
		if o.Type == t && o.Status == OrderPending {
			return o, true
		}
	}
	return Order{}, false
}

// HasCompletedOrder reports whether any order of the given type completed.
func (e *Engine) HasCompletedOrder(t OrderType) bool {
	for _, o := range e.st.Orders {
		if o.Type == t && o.Status == OrderComplete {
			return true
		}
	}
	return false
}

// ── Hydration ─────────────────────────────────────────────────────────────────

// Snapshot returns a deep copy of the state for persistence or broadcast.
func (e *Engine) Snapshot() State {
	return cloneState(e.st)
}

// Hydrate replaces the full state from a persisted snapshot. Rhythm history,
// EKG history, interventions, and extended state are all restored.
func (e *Engine) Hydrate(snap State) {
	e.st = cloneState(snap)
	if e.st.Findings == nil {
		e.st.Findings = map[string]bool{}
	}
	if e.st.NextOrderID == 0 {
		e.st.NextOrderID = 1
	}
}

func cloneState(s State) State {
	out := s
	out.StageIDs = append([]string(nil), s.StageIDs...)
	out.Orders = append([]Order(nil), s.Orders...)
	out.EKGHistory = append([]EKGRecord(nil), s.EKGHistory...)
	out.TelemetryHistory = append([]TelemetryRecord(nil), s.TelemetryHistory...)
	out.TreatmentHistory = append([]Treatment(nil), s.TreatmentHistory...)
	out.PendingEffects = append([]PendingEffect(nil), s.PendingEffects...)
	out.Findings = make(map[string]bool, len(s.Findings))
	for k, v := range s.Findings {
		out.Findings[k] = v
	}
	if s.Exam != nil {
		x := *s.Exam
		out.Exam = &x
	}
	if s.Interventions.IV != nil {
		iv := *s.Interventions.IV
		out.Interventions.IV = &iv
	}
	if s.Interventions.Oxygen != nil {
		ox := *s.Interventions.Oxygen
		out.Interventions.Oxygen = &ox
	}
	if s.Interventions.ETT != nil {
		tt := *s.Interventions.ETT
		out.Interventions.ETT = &tt
	}
	if s.Extended != nil {
		ext := Extended{}
		if s.Extended.SVT != nil {
			sv := *s.Extended.SVT
			sv.AdenosineDoses = append([]svt.AdenosineDose(nil), s.Extended.SVT.AdenosineDoses...)
			sv.CardioversionAttempts = append([]svt.CardioversionAttempt(nil), s.Extended.SVT.CardioversionAttempts...)
			sv.TimelineEvents = append([]svt.TimelineEvent(nil), s.Extended.SVT.TimelineEvents...)
			sv.RuleTriggers = append([]string(nil), s.Extended.SVT.RuleTriggers...)
			ext.SVT = &sv
		}
		if s.Extended.Myocarditis != nil {
			my := *s.Extended.Myocarditis
			my.FluidBoluses = append([]myocarditis.FluidBolus(nil), s.Extended.Myocarditis.FluidBoluses...)
			my.Inotropes = append([]myocarditis.InotropeDose(nil), s.Extended.Myocarditis.Inotropes...)
			my.TimelineEvents = append([]myocarditis.TimelineEvent(nil), s.Extended.Myocarditis.TimelineEvents...)
			ext.Myocarditis = &my
		}
		out.Extended = &ext
	}
	return out
}
