// Package tts defines the Provider interface for text-to-speech backends.
//
// Each simulated character maps to a provider voice ID via the configured
// voice map; the orchestrator synthesizes a full reply at once and ships it
// to clients as one base64 chunk. Implementations must be safe for concurrent
// use.
package tts

import "context"

// Provider is the abstraction over any text-to-speech backend.
type Provider interface {
	// Synthesize renders text with the given provider voice. The returned
	// bytes are a complete encoded audio clip (format is provider-specific,
	// typically MP3).
	//
	// A nil slice with a nil error means the backend produced no audio;
	// callers treat that as a soft failure and fall back to text.
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}
