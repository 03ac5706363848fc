// Package scenario implements the deterministic per-session clinical state
// machine: stages, vitals, exam findings, interventions, orders, rhythm and
// treatment history, plus scheduled decay effects.
//
// The engine is a synchronous, single-threaded state transformer. All public
// methods return immediately and perform no I/O; callers are responsible for
// serialising access (the orchestrator holds the per-session state lock).
package scenario

import (
	"time"

	"github.com/clinsim/voicegate/internal/scenario/myocarditis"
	"github.com/clinsim/voicegate/internal/scenario/svt"
)

// Vitals is the patient's current vital signs. BP is recorded as a
// "systolic/diastolic" string, matching how it is charted.
type Vitals struct {
	HR   int     `json:"hr"`
	BP   string  `json:"bp"`
	SpO2 int     `json:"spo2"`
	RR   int     `json:"rr"`
	Temp float64 `json:"temp"`
}

// VitalsDelta is a set of signed adjustments to apply to Vitals. Nil fields
// leave the corresponding vital unchanged.
type VitalsDelta struct {
	HR   *int     `json:"hr,omitempty"`
	BP   *string  `json:"bp,omitempty"` // absolute replacement, not a delta
	SpO2 *int     `json:"spo2,omitempty"`
	RR   *int     `json:"rr,omitempty"`
	Temp *float64 `json:"temp,omitempty"`
}

// Exam holds the revealable physical exam findings for the current stage.
type Exam struct {
	General       string `json:"general,omitempty"`
	Cardio        string `json:"cardio,omitempty"`
	Lungs         string `json:"lungs,omitempty"`
	Perfusion     string `json:"perfusion,omitempty"`
	Neuro         string `json:"neuro,omitempty"`
	HeartAudioURL string `json:"heartAudioUrl,omitempty"`
	LungAudioURL  string `json:"lungAudioUrl,omitempty"`
}

// IVAccess describes a placed peripheral IV.
type IVAccess struct {
	Gauge int    `json:"gauge"`
	Site  string `json:"site"`
}

// Oxygen describes supplemental oxygen in use.
type Oxygen struct {
	Mode string  `json:"mode"` // "nc", "simple_mask", "nrb", "hfnc"
	LPM  float64 `json:"lpm"`
}

// ETT describes an endotracheal tube.
type ETT struct {
	Size  float64 `json:"size"`
	Depth float64 `json:"depth"`
}

// Interventions tracks equipment currently attached to the patient.
type Interventions struct {
	IV      *IVAccess `json:"iv,omitempty"`
	Oxygen  *Oxygen   `json:"oxygen,omitempty"`
	Monitor bool      `json:"monitor"`
	ETT     *ETT      `json:"ett,omitempty"`
}

// OrderType enumerates the kinds of orders a participant can place.
type OrderType string

const (
	OrderVitals      OrderType = "vitals"
	OrderEKG         OrderType = "ekg"
	OrderLabs        OrderType = "labs"
	OrderImaging     OrderType = "imaging"
	OrderCardiacExam OrderType = "cardiac_exam"
	OrderLungExam    OrderType = "lung_exam"
	OrderGeneralExam OrderType = "general_exam"
	OrderIVAccess    OrderType = "iv_access"
)

// IsValid reports whether t is a recognised order type.
func (t OrderType) IsValid() bool {
	switch t {
	case OrderVitals, OrderEKG, OrderLabs, OrderImaging,
		OrderCardiacExam, OrderLungExam, OrderGeneralExam, OrderIVAccess:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderComplete OrderStatus = "complete"
)

// Order is a single placed order. Invariant: a pending order has no
// CompletedAt and no Result; a complete order has both.
type Order struct {
	ID          int         `json:"id"`
	Type        OrderType   `json:"type"`
	Status      OrderStatus `json:"status"`
	Result      string      `json:"result,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	OrderedBy   string      `json:"orderedBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// EKGRecord is one entry of the bounded EKG history (last 3 retained).
type EKGRecord struct {
	TS       time.Time `json:"ts"`
	Summary  string    `json:"summary"`
	ImageURL string    `json:"imageUrl,omitempty"`
}

// TelemetryRecord is appended whenever the monitored rhythm label changes.
type TelemetryRecord struct {
	TS     time.Time `json:"ts"`
	Rhythm string    `json:"rhythm,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// Treatment is one entry of the append-only treatment history.
type Treatment struct {
	TS   time.Time `json:"ts"`
	Type string    `json:"treatmentType"`
	Note string    `json:"note,omitempty"`
}

// AgeGroup buckets patients for age-aware vitals baselines and dosing.
type AgeGroup string

const (
	AgeInfant    AgeGroup = "infant"
	AgeToddler   AgeGroup = "toddler"
	AgePreschool AgeGroup = "preschool"
	AgeChild     AgeGroup = "child"
	AgeTeen      AgeGroup = "teen"
)

// Demographics is fixed for the session once the scenario is selected.
type Demographics struct {
	AgeYears float64  `json:"ageYears"`
	WeightKg float64  `json:"weightKg"`
	AgeGroup AgeGroup `json:"ageGroup"`
}

// Extended carries scenario-specific sub-engine state. Exactly one field is
// non-nil, and only when the scenario is a complex one.
type Extended struct {
	SVT         *svt.State         `json:"svt,omitempty"`
	Myocarditis *myocarditis.State `json:"myocarditis,omitempty"`
}

// IsZero reports whether no sub-engine state is attached.
func (e *Extended) IsZero() bool {
	return e == nil || (e.SVT == nil && e.Myocarditis == nil)
}

// State is the complete engine state. It is the unit of hydration: the
// persistence projection of a State round-trips through Snapshot/Hydrate.
type State struct {
	ScenarioID        string            `json:"scenarioId"`
	StageID           string            `json:"stageId"`
	StageIDs          []string          `json:"stageIds"`
	StageEnteredAt    time.Time         `json:"stageEnteredAt"`
	ScenarioStartedAt time.Time         `json:"scenarioStartedAt"`
	ElapsedSeconds    int               `json:"elapsedSeconds"`
	Vitals            Vitals            `json:"vitals"`
	Exam              *Exam             `json:"exam,omitempty"`
	Interventions     Interventions     `json:"interventions"`
	Telemetry         bool              `json:"telemetry"`
	RhythmSummary     string            `json:"rhythmSummary,omitempty"`
	Findings          map[string]bool   `json:"findings"`
	Orders            []Order           `json:"orders"`
	EKGHistory        []EKGRecord       `json:"ekgHistory,omitempty"`
	TelemetryHistory  []TelemetryRecord `json:"telemetryHistory,omitempty"`
	TreatmentHistory  []Treatment       `json:"treatmentHistory,omitempty"`
	Extended          *Extended         `json:"extended,omitempty"`
	Demographics      Demographics      `json:"demographics"`

	// NextOrderID is the monotonic counter for order IDs. Persisted so that
	// hydrated sessions keep issuing unique IDs.
	NextOrderID int `json:"nextOrderId"`

	// PendingEffects are scheduled decay intents fired by Tick in
	// (FireAt, Seq) order.
	PendingEffects []PendingEffect `json:"pendingEffects,omitempty"`

	// NextEffectSeq orders effects scheduled at the same instant.
	NextEffectSeq int `json:"nextEffectSeq"`
}

// PendingEffect is a delayed intent, typically the decay of a treatment's
// vitals effect.
type PendingEffect struct {
	FireAt time.Time  `json:"fireAt"`
	Seq    int        `json:"seq"`
	Intent ToolIntent `json:"intent"`
}

// IntentType tags a ToolIntent variant. The set is closed: the tool gate
// rejects anything else.
type IntentType string

const (
	IntentUpdateVitals   IntentType = "intent_updateVitals"
	IntentRevealFinding  IntentType = "intent_revealFinding"
	IntentApplyTreatment IntentType = "intent_applyTreatment"
	IntentSubmitOrder    IntentType = "intent_submitOrder"
	IntentSetStage       IntentType = "intent_setStage"
)

// IsValid reports whether t is a recognised intent type.
func (t IntentType) IsValid() bool {
	switch t {
	case IntentUpdateVitals, IntentRevealFinding, IntentApplyTreatment,
		IntentSubmitOrder, IntentSetStage:
		return true
	}
	return false
}

// ToolIntent is a proposed state change. Intents originate from the Realtime
// model's tool calls or from intent handlers; either way they pass through
// the tool gate before the engine applies them.
type ToolIntent struct {
	Type      IntentType        `json:"type"`
	Vitals    *VitalsDelta      `json:"vitals,omitempty"`
	FindingID string            `json:"findingId,omitempty"`
	Treatment *TreatmentRequest `json:"treatment,omitempty"`
	Order     *OrderRequest     `json:"order,omitempty"`
	StageID   string            `json:"stageId,omitempty"`
}

// TreatmentRequest describes a treatment to apply, as proposed by a handler
// or the model.
type TreatmentRequest struct {
	Type    string  `json:"treatmentType"`
	DoseMg  float64 `json:"doseMg,omitempty"`
	Route   string  `json:"route,omitempty"`
	Joules  float64 `json:"joules,omitempty"`
	Sedated bool    `json:"sedated,omitempty"`
	Synced  bool    `json:"synchronized,omitempty"`
	Flush   bool    `json:"flushGiven,omitempty"`
	Note    string  `json:"note,omitempty"`
}

// OrderRequest describes an order submission.
type OrderRequest struct {
	Type      OrderType `json:"orderType"`
	OrderedBy string    `json:"orderedBy,omitempty"`
	IV        *IVAccess `json:"ivParams,omitempty"`
}

// Event is emitted by engine operations for the session event log.
type Event struct {
	TS   time.Time      `json:"ts"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}
