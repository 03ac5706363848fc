// Package realtime defines the full-duplex speech-to-speech interface used
// for the patient voice.
//
// A Realtime session owns its network socket and surfaces everything through
// the Events callbacks; it never mutates gateway state directly. The
// orchestrator serializes the callbacks under the per-session state lock, so
// implementations may invoke them from any goroutine.
package realtime

import "context"

// Usage reports token consumption attributed to one model response.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolDefinition declares one function tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Events are the session callbacks. Any field may be nil. Implementations
// call them from their receive goroutine; callers must not block in them.
type Events struct {
	// OnAudioOut delivers a chunk of synthesized model speech (PCM16).
	OnAudioOut func(audio []byte)

	// OnTranscriptDelta delivers model speech transcript text. final marks
	// the accumulated end-of-utterance text.
	OnTranscriptDelta func(text string, final bool)

	// OnToolCall delivers a completed model tool invocation: the raw tool
	// name and its JSON-encoded arguments. The receiver parses and gates
	// them; the session has already acknowledged the call upstream.
	OnToolCall func(name, argsJSON string)

	// OnUsage reports token usage after each model response.
	OnUsage func(u Usage)

	// OnDisconnect fires once when the session ends for any reason other
	// than Close. err is the terminal error.
	OnDisconnect func(err error)
}

// SessionConfig describes a new session.
type SessionConfig struct {
	// Voice is the provider voice ID for synthesized speech.
	Voice string

	// Instructions is the system prompt framing the character.
	Instructions string

	// Tools are the function tools offered to the model.
	Tools []ToolDefinition
}

// SessionHandle is an open Realtime session. All methods are safe for
// concurrent use; Close is idempotent.
type SessionHandle interface {
	// SendAudioChunk appends one chunk of caller audio to the input buffer.
	SendAudioChunk(chunk []byte) error

	// CommitAudio closes the current input turn and requests a model
	// response.
	CommitAudio() error

	// CancelResponse aborts the in-flight model response, suppressing
	// further audio and transcript deltas for it.
	CancelResponse() error

	// UpdateInstructions replaces the system prompt mid-session.
	UpdateInstructions(instructions string) error

	// Close terminates the session and releases its socket.
	Close() error
}

// Provider is the abstraction over any speech-to-speech backend.
type Provider interface {
	Connect(ctx context.Context, cfg SessionConfig, ev Events) (SessionHandle, error)
}
