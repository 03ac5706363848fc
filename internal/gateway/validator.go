package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validation errors. All are answered with an error frame; none close the
// connection by themselves.
var (
	ErrMalformedFrame     = errors.New("gateway: malformed frame")
	ErrUnknownType        = errors.New("gateway: unknown message type")
	ErrUnknownCommandType = errors.New("gateway: unknown command type")
	ErrMissingField       = errors.New("gateway: missing required field")
	ErrInvalidRole        = errors.New("gateway: invalid role")
)

var inboundTypes = map[string]struct{}{
	TypeJoin:              {},
	TypeStartSpeaking:     {},
	TypeStopSpeaking:      {},
	TypeDoctorAudio:       {},
	TypeSetScenario:       {},
	TypeVoiceCommand:      {},
	TypeAnalyzeTranscript: {},
	TypePing:              {},
}

var commandTypes = map[string]struct{}{
	CmdPauseAI:         {},
	CmdResumeAI:        {},
	CmdForceReply:      {},
	CmdEndTurn:         {},
	CmdMuteUser:        {},
	CmdFreeze:          {},
	CmdUnfreeze:        {},
	CmdSkipStage:       {},
	CmdOrder:           {},
	CmdExam:            {},
	CmdToggleTelemetry: {},
	CmdTreatment:       {},
	CmdShowEKG:         {},
	CmdScenarioEvent:   {},
}

// ParseInbound decodes and validates one client frame. Only the closed set of
// inbound types is accepted, and each type's required fields must be present.
func ParseInbound(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if _, ok := inboundTypes[msg.Type]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	if msg.Type == TypePing {
		return &msg, nil
	}
	if msg.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId", ErrMissingField)
	}
	if msg.UserID == "" {
		return nil, fmt.Errorf("%w: userId", ErrMissingField)
	}

	switch msg.Type {
	case TypeJoin:
		if msg.Role != "presenter" && msg.Role != "participant" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
		}
	case TypeDoctorAudio:
		if msg.AudioBase64 == "" {
			return nil, fmt.Errorf("%w: audioBase64", ErrMissingField)
		}
	case TypeSetScenario:
		if msg.ScenarioID == "" {
			return nil, fmt.Errorf("%w: scenarioId", ErrMissingField)
		}
	case TypeVoiceCommand:
		if _, ok := commandTypes[msg.CommandType]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, msg.CommandType)
		}
	}
	return &msg, nil
}
