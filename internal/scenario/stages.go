package scenario

// StageDefinition is one named node of the scenario stage machine, with its
// allowed intents, optional vitals-delta bounds, and ordered exit rules.
type StageDefinition struct {
	ID             string
	AllowedIntents []IntentType
	VitalsBounds   *VitalsBounds
	ExitRules      []ExitRule
}

// VitalsBounds caps the absolute per-intent vitals deltas a stage accepts.
// Zero-valued fields mean unbounded.
type VitalsBounds struct {
	MaxHRDelta   int
	MaxSpO2Delta int
	MaxRRDelta   int
	MaxTempDelta float64
}

// ExitRule is a guard over the current state. Rules are evaluated in declared
// order; the first match advances the stage. A nil Guard matches on the
// time/hint conditions alone.
type ExitRule struct {
	Description       string
	Next              string
	MinSecondsInStage int
	ActionHint        string
	Guard             func(s *State) bool
}

// Extended-state kinds used by Definition.ExtendedKind.
const (
	ExtendedNone        = ""
	ExtendedSVT         = "svt"
	ExtendedMyocarditis = "myocarditis"
)

// Definition is the full declared content of one scenario: demographics,
// initial state, stage machine, and the per-scenario result text the order
// handler composes deterministic results from.
type Definition struct {
	ID           string
	Name         string
	Demographics Demographics
	InitialVitals Vitals
	InitialExam   Exam
	Stages        []StageDefinition

	// ExtendedKind selects the complex sub-engine, or ExtendedNone.
	ExtendedKind string

	// VagalEffective is SVT data: whether vagal manoeuvres convert this patient.
	VagalEffective bool

	// Declared result snippets used by the order handler.
	EKGSummary    string
	LabsResult    string
	ImagingResult string

	// Auscultation clip URLs revealed by cardiac/lung exams.
	HeartAudioURL string
	LungAudioURL  string
}

// Complex reports whether the scenario carries extended sub-engine state.
func (d *Definition) Complex() bool { return d.ExtendedKind != ExtendedNone }

// StageIDs returns the ordered stage ID list.
func (d *Definition) StageIDs() []string {
	ids := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		ids[i] = s.ID
	}
	return ids
}

// Stage looks up a stage by ID.
func (d *Definition) Stage(id string) (StageDefinition, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// allIntents is the allowed-intent set for permissive stages.
var allIntents = []IntentType{
	IntentUpdateVitals, IntentRevealFinding, IntentApplyTreatment,
	IntentSubmitOrder, IntentSetStage,
}

// registry holds every known scenario keyed by ID.
var registry = map[string]*Definition{}

func register(d *Definition) { registry[d.ID] = d }

// Get returns the scenario definition for id.
func Get(id string) (*Definition, bool) {
	d, ok := registry[id]
	return d, ok
}

// IDs returns all registered scenario IDs.
func IDs() []string {
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	return out
}

// IsComplex reports whether id names a registered complex scenario.
func IsComplex(id string) bool {
	d, ok := registry[id]
	return ok && d.Complex()
}

func init() {
	register(teenSVT())
	register(childMyocarditis())
	register(infantBronchiolitis())
	register(childAsthma())
}

func teenSVT() *Definition {
	return &Definition{
		ID:   "teen_svt_complex_v1",
		Name: "Teen with palpitations (SVT)",
		Demographics: Demographics{
			AgeYears: 14, WeightKg: 50, AgeGroup: AgeTeen,
		},
		InitialVitals: Vitals{HR: 220, BP: "104/68", SpO2: 97, RR: 24, Temp: 36.9},
		InitialExam: Exam{
			General:   "Anxious teenager, pale, complaining of a racing heart.",
			Cardio:    "Rapid regular tachycardia, no murmur appreciable at this rate.",
			Lungs:     "Clear bilaterally.",
			Perfusion: "Capillary refill 2 seconds, peripheral pulses rapid and thready.",
			Neuro:     "Alert, oriented, anxious.",
		},
		ExtendedKind:   ExtendedSVT,
		VagalEffective: false,
		EKGSummary:     "Narrow-complex regular tachycardia at ~220/min, no visible P waves: SVT.",
		LabsResult:     "CBC and electrolytes unremarkable. Troponin pending.",
		ImagingResult:  "Portable CXR: normal cardiac silhouette, clear lung fields.",
		HeartAudioURL:  "/audio/svt_heart.mp3",
		LungAudioURL:   "/audio/clear_lungs.mp3",
		Stages: []StageDefinition{
			{
				ID:             "arrival",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
				VitalsBounds:   &VitalsBounds{MaxHRDelta: 40, MaxSpO2Delta: 5, MaxRRDelta: 10, MaxTempDelta: 0.5},
				ExitRules: []ExitRule{
					{
						Description: "monitoring established",
						Next:        "assessment",
						Guard: func(s *State) bool {
							return s.Interventions.Monitor || s.Telemetry
						},
					},
					{Description: "dwell elapsed", Next: "assessment", MinSecondsInStage: 120},
				},
			},
			{
				ID:             "assessment",
				AllowedIntents: allIntents,
				VitalsBounds:   &VitalsBounds{MaxHRDelta: 60, MaxSpO2Delta: 8, MaxRRDelta: 12, MaxTempDelta: 0.5},
				ExitRules: []ExitRule{
					{
						Description: "first treatment given",
						Next:        "treatment",
						ActionHint:  "treatment",
					},
				},
			},
			{
				ID:             "treatment",
				AllowedIntents: allIntents,
				ExitRules: []ExitRule{
					{
						Description: "rhythm converted",
						Next:        "disposition",
						Guard: func(s *State) bool {
							return s.Extended != nil && s.Extended.SVT != nil && s.Extended.SVT.Converted
						},
					},
				},
			},
			{
				ID:             "disposition",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
			},
		},
	}
}

func childMyocarditis() *Definition {
	return &Definition{
		ID:   "child_myocarditis_complex_v1",
		Name: "Child in cardiogenic shock (myocarditis)",
		Demographics: Demographics{
			AgeYears: 6, WeightKg: 20, AgeGroup: AgeChild,
		},
		InitialVitals: Vitals{HR: 158, BP: "82/50", SpO2: 93, RR: 38, Temp: 37.8},
		InitialExam: Exam{
			General:   "Tired-appearing child, mottled, working to breathe.",
			Cardio:    "Tachycardic with a gallop rhythm, soft heart sounds.",
			Lungs:     "Fine crackles at both bases.",
			Perfusion: "Capillary refill 4 seconds, cool extremities, weak pulses.",
			Neuro:     "Drowsy but rousable.",
		},
		ExtendedKind:  ExtendedMyocarditis,
		EKGSummary:    "Sinus tachycardia with low-voltage QRS and diffuse T-wave flattening.",
		LabsResult:    "Lactate 3.2 mmol/L, troponin markedly elevated, BNP elevated.",
		ImagingResult: "CXR: cardiomegaly with pulmonary venous congestion.",
		HeartAudioURL: "/audio/gallop_heart.mp3",
		LungAudioURL:  "/audio/basal_crackles.mp3",
		Stages: []StageDefinition{
			{
				ID:             "arrival",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
				VitalsBounds:   &VitalsBounds{MaxHRDelta: 30, MaxSpO2Delta: 6, MaxRRDelta: 10, MaxTempDelta: 0.5},
				ExitRules: []ExitRule{
					{
						Description: "shock workup started",
						Next:        "workup",
						Guard: func(s *State) bool {
							return len(s.Orders) > 0
						},
					},
					{Description: "dwell elapsed", Next: "workup", MinSecondsInStage: 90},
				},
			},
			{
				ID:             "workup",
				AllowedIntents: allIntents,
				ExitRules: []ExitRule{
					{
						Description: "treatment started",
						Next:        "treatment",
						ActionHint:  "treatment",
					},
				},
			},
			{
				ID:             "treatment",
				AllowedIntents: allIntents,
				ExitRules: []ExitRule{
					{
						Description: "stabilized on inotropes",
						Next:        "disposition",
						Guard: func(s *State) bool {
							return s.Extended != nil && s.Extended.Myocarditis != nil &&
								s.Extended.Myocarditis.Phase == "stabilized"
						},
					},
				},
			},
			{
				ID:             "disposition",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
			},
		},
	}
}

func infantBronchiolitis() *Definition {
	return &Definition{
		ID:   "infant_bronchiolitis_v1",
		Name: "Infant with bronchiolitis",
		Demographics: Demographics{
			AgeYears: 0.5, WeightKg: 7, AgeGroup: AgeInfant,
		},
		InitialVitals: Vitals{HR: 165, BP: "88/54", SpO2: 89, RR: 62, Temp: 38.3},
		InitialExam: Exam{
			General:   "Congested infant with nasal flaring and subcostal retractions.",
			Cardio:    "Tachycardic, no murmur.",
			Lungs:     "Diffuse wheeze and crackles, prolonged expiration.",
			Perfusion: "Capillary refill 2 seconds.",
			Neuro:     "Fussy but consolable.",
		},
		EKGSummary:    "Sinus tachycardia, normal intervals for age.",
		LabsResult:    "RSV antigen positive. Gas: mild respiratory acidosis.",
		ImagingResult: "CXR: hyperinflation with peribronchial cuffing, no focal consolidation.",
		HeartAudioURL: "/audio/normal_heart_fast.mp3",
		LungAudioURL:  "/audio/wheeze_crackles.mp3",
		Stages: []StageDefinition{
			{
				ID:             "arrival",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
				VitalsBounds:   &VitalsBounds{MaxHRDelta: 30, MaxSpO2Delta: 8, MaxRRDelta: 15, MaxTempDelta: 1.0},
				ExitRules: []ExitRule{
					{
						Description: "oxygen started",
						Next:        "treatment",
						Guard:       func(s *State) bool { return s.Interventions.Oxygen != nil },
					},
					{Description: "dwell elapsed", Next: "treatment", MinSecondsInStage: 180},
				},
			},
			{
				ID:             "treatment",
				AllowedIntents: allIntents,
				ExitRules: []ExitRule{
					{
						Description: "oxygenation recovered",
						Next:        "disposition",
						Guard:       func(s *State) bool { return s.Vitals.SpO2 >= 94 },
					},
				},
			},
			{
				ID:             "disposition",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
			},
		},
	}
}

func childAsthma() *Definition {
	return &Definition{
		ID:   "child_asthma_v1",
		Name: "Child with acute asthma",
		Demographics: Demographics{
			AgeYears: 8, WeightKg: 26, AgeGroup: AgeChild,
		},
		InitialVitals: Vitals{HR: 132, BP: "102/64", SpO2: 91, RR: 36, Temp: 37.1},
		InitialExam: Exam{
			General:   "Sitting forward, speaking in short phrases.",
			Cardio:    "Tachycardic, regular.",
			Lungs:     "Diffuse expiratory wheeze with reduced air entry at the bases.",
			Perfusion: "Well perfused.",
			Neuro:     "Alert, anxious.",
		},
		EKGSummary:    "Sinus tachycardia.",
		LabsResult:    "Gas: mild hypoxaemia, normal CO2.",
		ImagingResult: "CXR: hyperinflation, no pneumothorax.",
		HeartAudioURL: "/audio/normal_heart.mp3",
		LungAudioURL:  "/audio/expiratory_wheeze.mp3",
		Stages: []StageDefinition{
			{
				ID:             "arrival",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
				VitalsBounds:   &VitalsBounds{MaxHRDelta: 30, MaxSpO2Delta: 8, MaxRRDelta: 12, MaxTempDelta: 0.5},
				ExitRules: []ExitRule{
					{
						Description: "bronchodilator given",
						Next:        "treatment",
						ActionHint:  "treatment",
					},
					{Description: "dwell elapsed", Next: "treatment", MinSecondsInStage: 150},
				},
			},
			{
				ID:             "treatment",
				AllowedIntents: allIntents,
				ExitRules: []ExitRule{
					{
						Description: "air entry recovered",
						Next:        "disposition",
						Guard:       func(s *State) bool { return s.Vitals.SpO2 >= 94 && s.Vitals.RR <= 28 },
					},
				},
			},
			{
				ID:             "disposition",
				AllowedIntents: []IntentType{IntentRevealFinding, IntentSubmitOrder, IntentUpdateVitals},
			},
		},
	}
}
