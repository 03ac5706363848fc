// Package mock provides test doubles for the realtime package interfaces.
//
// Provider records Connect calls and hands back a Session; the Events passed
// to Connect are captured so tests can fire model-side callbacks on demand:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg, ev)
//	p.LastEvents().OnToolCall("updateVitals", `{"hr": -40}`)
package mock

import (
	"context"
	"sync"

	"github.com/clinsim/voicegate/pkg/provider/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, a new default Session is
	// returned.
	Session realtime.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect.
	ConnectCalls []ConnectCall

	lastEvents realtime.Events
}

var _ realtime.Provider = (*Provider)(nil)

// Connect records the call, captures ev and returns Session, ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg realtime.SessionConfig, ev realtime.Events) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	p.lastEvents = ev
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{}, nil
}

// LastEvents returns the Events captured by the most recent Connect call.
func (p *Provider) LastEvents() realtime.Events {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastEvents
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.lastEvents = realtime.Events{}
}

// Session is a mock implementation of realtime.SessionHandle.
type Session struct {
	mu sync.Mutex

	// SendErr, CommitErr, CancelErr, UpdateErr, CloseErr are returned by the
	// corresponding methods when non-nil.
	SendErr   error
	CommitErr error
	CancelErr error
	UpdateErr error
	CloseErr  error

	// SendChunks records a copy of every chunk passed to SendAudioChunk.
	SendChunks [][]byte

	// Instructions records every UpdateInstructions argument in order.
	Instructions []string

	// CommitCount, CancelCount and CloseCount count the respective calls.
	CommitCount int
	CancelCount int
	CloseCount  int
}

var _ realtime.SessionHandle = (*Session)(nil)

// SendAudioChunk records the chunk and returns SendErr.
func (s *Session) SendAudioChunk(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendChunks = append(s.SendChunks, cp)
	return s.SendErr
}

// CommitAudio records the call and returns CommitErr.
func (s *Session) CommitAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommitCount++
	return s.CommitErr
}

// CancelResponse records the call and returns CancelErr.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCount++
	return s.CancelErr
}

// UpdateInstructions records the call and returns UpdateErr.
func (s *Session) UpdateInstructions(instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Instructions = append(s.Instructions, instructions)
	return s.UpdateErr
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return s.CloseErr
}

// Cancels returns the number of CancelResponse calls. Thread-safe.
func (s *Session) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CancelCount
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}
