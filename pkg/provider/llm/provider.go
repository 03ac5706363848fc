// Package llm defines the chat-completion interface used for character
// fallback replies (patient, nurse) and debrief summaries.
//
// The gateway uses the LLM in two shapes: streamed deltas for low-latency
// spoken replies, and one-shot completions for analysis text. Implementations
// must be safe for concurrent use.
package llm

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role    string
	Content string
}

// Usage reports token consumption for one completion. Providers that do not
// surface usage return an estimate.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the final accumulated output of a completion.
type Result struct {
	Text  string
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Stream runs a completion, invoking onDelta for each text fragment as it
	// arrives, and returns the accumulated result. onDelta runs on the
	// provider's goroutine; callers must not block in it.
	Stream(ctx context.Context, system string, msgs []Message, onDelta func(text string)) (Result, error)

	// Complete runs a completion and returns the full result at once.
	Complete(ctx context.Context, system string, msgs []Message) (Result, error)
}

// EstimateTokens approximates token usage for providers that do not report
// it. ~4 chars per token is a rough approximation for most models.
func EstimateTokens(msgs []Message, reply string) Usage {
	var u Usage
	for _, m := range msgs {
		u.InputTokens += (len(m.Content) + 3) / 4
		u.InputTokens += 4
	}
	u.OutputTokens = (len(reply) + 3) / 4
	return u
}
