// Package mock provides test doubles for the llm package interfaces.
//
// Pre-populate Deltas and Text with the reply the consumer should receive,
// then inspect the recorded calls.
package mock

import (
	"context"
	"sync"

	"github.com/clinsim/voicegate/pkg/provider/llm"
)

// Call records a single invocation of Stream or Complete.
type Call struct {
	System   string
	Messages []llm.Message
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Deltas are emitted one by one through onDelta during Stream.
	Deltas []string

	// Text is the final Result.Text. If empty, the concatenation of Deltas
	// is used.
	Text string

	// Usage is attached to every Result.
	Usage llm.Usage

	// Err, if non-nil, is returned by every call.
	Err error

	// StreamCalls and CompleteCalls record every invocation in order.
	StreamCalls   []Call
	CompleteCalls []Call
}

var _ llm.Provider = (*Provider)(nil)

// Stream records the call, replays Deltas through onDelta and returns the
// configured result.
func (p *Provider) Stream(_ context.Context, system string, msgs []llm.Message, onDelta func(text string)) (llm.Result, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{System: system, Messages: append([]llm.Message(nil), msgs...)})
	deltas := append([]string(nil), p.Deltas...)
	res := llm.Result{Text: p.Text, Usage: p.Usage}
	err := p.Err
	p.mu.Unlock()

	if err != nil {
		return llm.Result{}, err
	}
	var joined string
	for _, d := range deltas {
		if onDelta != nil {
			onDelta(d)
		}
		joined += d
	}
	if res.Text == "" {
		res.Text = joined
	}
	return res, nil
}

// Complete records the call and returns the configured result.
func (p *Provider) Complete(_ context.Context, system string, msgs []llm.Message) (llm.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{System: system, Messages: append([]llm.Message(nil), msgs...)})
	if p.Err != nil {
		return llm.Result{}, p.Err
	}
	text := p.Text
	if text == "" {
		for _, d := range p.Deltas {
			text += d
		}
	}
	return llm.Result{Text: text, Usage: p.Usage}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}
