// Package gateway owns the WebSocket edge: framing, inbound validation, the
// join-first handshake with optional token auth, and the outbound message
// vocabulary. Everything behind the socket — routing, state, voice — lives in
// the orchestrator, which plugs in as a Handler.
package gateway

import "time"

// Inbound message types. This is a closed set; the validator rejects anything
// else.
const (
	TypeJoin              = "join"
	TypeStartSpeaking     = "start_speaking"
	TypeStopSpeaking      = "stop_speaking"
	TypeDoctorAudio       = "doctor_audio"
	TypeSetScenario       = "set_scenario"
	TypeVoiceCommand      = "voice_command"
	TypeAnalyzeTranscript = "analyze_transcript"
	TypePing              = "ping"
)

// Outbound message types.
const (
	TypeJoined                 = "joined"
	TypeParticipantState       = "participant_state"
	TypePatientState           = "patient_state"
	TypePatientTranscriptDelta = "patient_transcript_delta"
	TypePatientAudio           = "patient_audio"
	TypeDoctorUtterance        = "doctor_utterance"
	TypeSimState               = "sim_state"
	TypeScenarioChanged        = "scenario_changed"
	TypeAnalysisResult         = "analysis_result"
	TypeComplexDebriefResult   = "complex_debrief_result"
	TypeVoiceError             = "voice_error"
	TypePong                   = "pong"
	TypeError                  = "error"
)

// Voice command types carried inside a voice_command frame. Closed set.
const (
	CmdPauseAI         = "pause_ai"
	CmdResumeAI        = "resume_ai"
	CmdForceReply      = "force_reply"
	CmdEndTurn         = "end_turn"
	CmdMuteUser        = "mute_user"
	CmdFreeze          = "freeze"
	CmdUnfreeze        = "unfreeze"
	CmdSkipStage       = "skip_stage"
	CmdOrder           = "order"
	CmdExam            = "exam"
	CmdToggleTelemetry = "toggle_telemetry"
	CmdTreatment       = "treatment"
	CmdShowEKG         = "show_ekg"
	CmdScenarioEvent   = "scenario_event"
)

// Voice error codes.
const (
	VoiceErrTTSFailed    = "tts_failed"
	VoiceErrSTTFailed    = "stt_failed"
	VoiceErrOpenAIFailed = "openai_failed"
)

// TranscriptTurn is one turn of the debrief transcript sent with
// analyze_transcript.
type TranscriptTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Inbound is the decoded envelope of any client frame. Which fields are
// meaningful depends on Type; the validator enforces the per-type contract.
type Inbound struct {
	Type        string           `json:"type"`
	SessionID   string           `json:"sessionId,omitempty"`
	UserID      string           `json:"userId,omitempty"`
	Role        string           `json:"role,omitempty"`
	AuthToken   string           `json:"authToken,omitempty"`
	AudioBase64 string           `json:"audioBase64,omitempty"`
	ContentType string           `json:"contentType,omitempty"`
	Character   string           `json:"character,omitempty"`
	ScenarioID  string           `json:"scenarioId,omitempty"`
	CommandType string           `json:"commandType,omitempty"`
	Payload     map[string]any   `json:"payload,omitempty"`
	Turns       []TranscriptTurn `json:"turns,omitempty"`
}

// Joined confirms a successful join.
type Joined struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	Role         string `json:"role"`
	InsecureMode bool   `json:"insecureMode,omitempty"`
}

// ParticipantState announces a speaking-floor change for one user.
type ParticipantState struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Speaking  bool   `json:"speaking"`
}

// PatientState announces the voice pipeline state for a character.
type PatientState struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"` // idle | listening | speaking | error
	Character string `json:"character,omitempty"`
}

// PatientTranscriptDelta streams NPC reply text as it is produced.
type PatientTranscriptDelta struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Character string `json:"character,omitempty"`
}

// PatientAudio carries one chunk of synthesized NPC speech.
type PatientAudio struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	AudioBase64 string `json:"audioBase64"`
	Character   string `json:"character,omitempty"`
}

// DoctorUtterance broadcasts a transcribed participant utterance.
type DoctorUtterance struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Text      string `json:"text"`
	Character string `json:"character,omitempty"`
}

// BudgetInfo is the cost summary attached to sim_state.
type BudgetInfo struct {
	EstimateUSD  float64 `json:"estimateUsd"`
	VoiceSeconds float64 `json:"voiceSeconds"`
	SoftFired    bool    `json:"softFired"`
	HardFired    bool    `json:"hardFired"`
}

// SimState is the role-gated session snapshot. The orchestrator fills fields
// according to the receiver's role; engine-shaped fields are typed any so the
// projection can substitute empty placeholders for gated data.
type SimState struct {
	Type              string            `json:"type"`
	SessionID         string            `json:"sessionId"`
	StageID           string            `json:"stageId"`
	ScenarioID        string            `json:"scenarioId"`
	Vitals            any               `json:"vitals"`
	Exam              map[string]string `json:"exam,omitempty"`
	ExamAudio         map[string]string `json:"examAudio,omitempty"`
	Interventions     any               `json:"interventions"`
	Telemetry         bool              `json:"telemetry"`
	RhythmSummary     string            `json:"rhythmSummary,omitempty"`
	TelemetryWaveform []float64         `json:"telemetryWaveform,omitempty"`
	Findings          []string          `json:"findings"`
	Orders            any               `json:"orders"`
	EKGHistory        any               `json:"ekgHistory,omitempty"`
	TelemetryHistory  any               `json:"telemetryHistory,omitempty"`
	TreatmentHistory  any               `json:"treatmentHistory,omitempty"`
	ScenarioStartedAt *time.Time        `json:"scenarioStartedAt,omitempty"`
	StageEnteredAt    *time.Time        `json:"stageEnteredAt,omitempty"`
	ElapsedSeconds    int               `json:"elapsedSeconds,omitempty"`
	Fallback          bool              `json:"fallback"`
	VoiceFallback     bool              `json:"voiceFallback"`
	CorrelationID     string            `json:"correlationId"`
	Budget            *BudgetInfo       `json:"budget,omitempty"`
	Extended          any               `json:"extended,omitempty"` // presenter only
	StageIDs          []string          `json:"stageIds,omitempty"` // presenter only
}

// ScenarioChanged announces a scenario switch.
type ScenarioChanged struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	ScenarioID string `json:"scenarioId"`
}

// AnalysisResult is the free-form debrief for simple scenarios.
type AnalysisResult struct {
	Type           string   `json:"type"`
	SessionID      string   `json:"sessionId"`
	Summary        string   `json:"summary"`
	Strengths      []string `json:"strengths"`
	Opportunities  []string `json:"opportunities"`
	TeachingPoints []string `json:"teachingPoints"`
}

// DebriefItem is one checklist/bonus/penalty row of a complex debrief.
type DebriefItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Explanation string `json:"explanation,omitempty"`
	Points      int    `json:"points"`
	Achieved    bool   `json:"achieved"`
}

// DebriefTimelineEntry is one timeline row of a complex debrief.
type DebriefTimelineEntry struct {
	OffsetSeconds int    `json:"offsetSeconds"`
	EventType     string `json:"eventType"`
	Description   string `json:"description"`
	Negative      bool   `json:"negative,omitempty"`
}

// ComplexDebriefResult is the deterministic scored debrief for complex
// scenarios.
type ComplexDebriefResult struct {
	Type                     string                 `json:"type"`
	SessionID                string                 `json:"sessionId"`
	Summary                  string                 `json:"summary,omitempty"`
	Passed                   bool                   `json:"passed"`
	Grade                    string                 `json:"grade"`
	ChecklistScore           int                    `json:"checklistScore"`
	ChecklistResults         []DebriefItem          `json:"checklistResults"`
	Bonuses                  []DebriefItem          `json:"bonuses"`
	Penalties                []DebriefItem          `json:"penalties"`
	TotalPoints              int                    `json:"totalPoints"`
	Timeline                 []DebriefTimelineEntry `json:"timeline"`
	ScenarioSpecificFeedback []string               `json:"scenarioSpecificFeedback"`
}

// VoiceError reports a voice adapter failure with a stable correlation ID.
type VoiceError struct {
	Type          string `json:"type"`
	SessionID     string `json:"sessionId"`
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
	Detail        string `json:"detail,omitempty"`
}

// Pong answers ping.
type Pong struct {
	Type string `json:"type"`
}

// ErrorMsg reports a protocol-level problem on the offending connection.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an ErrorMsg.
func NewError(message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Message: message}
}
