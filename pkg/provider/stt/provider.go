// Package stt defines the Provider interface for speech-to-text backends.
//
// The gateway transcribes one utterance at a time: a participant records a
// chunk, the browser ships it as base64, and the orchestrator hands the
// decoded bytes here. Implementations must be safe for concurrent use;
// multiple sessions transcribe simultaneously.
package stt

import "context"

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts one audio chunk into text. mimeType describes the
	// container (e.g. "audio/webm", "audio/wav").
	//
	// An empty string with a nil error means the backend recognised no
	// speech; callers treat that as a soft failure and surface a degraded
	// notice rather than an error.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}
