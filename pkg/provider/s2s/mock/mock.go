// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to inject events and inspect which blobs were sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Type: s2s.EventOpen})
package mock

import (
	"context"
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session
	// from [NewSession].
	Session s2s.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until Gate is closed or the
	// context is done. A done context makes Connect return ctx.Err().
	Gate chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCallCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.Session. Tests drive it with
// [Session.Emit] and [Session.End].
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events. [NewSession] allocates a
	// buffered one.
	EventsCh chan s2s.Event

	// SendInputErr, if non-nil, is returned by every SendInput call.
	SendInputErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Sent, if non-nil, receives a copy of every blob passed to SendInput.
	// The send blocks, so size the buffer for the test.
	Sent chan audio.Blob

	// SendInputCalls records every blob passed to SendInput.
	SendInputCalls []audio.Blob

	// CallCountClose records how many times Close was called.
	CallCountClose int

	ended bool
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan s2s.Event, 64)}
}

// SendInput records blob and returns SendInputErr.
func (s *Session) SendInput(_ context.Context, blob audio.Blob) error {
	s.mu.Lock()
	s.SendInputCalls = append(s.SendInputCalls, blob)
	err := s.SendInputErr
	sent := s.Sent
	s.mu.Unlock()

	if sent != nil {
		sent <- blob
	}
	return err
}

// Events returns EventsCh.
func (s *Session) Events() <-chan s2s.Event { return s.EventsCh }

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

// Emit delivers ev on the event channel.
func (s *Session) Emit(ev s2s.Event) {
	s.EventsCh <- ev
}

// EmitAudio delivers a message whose first part carries data as inline audio.
func (s *Session) EmitAudio(data string) {
	s.Emit(s2s.Event{
		Type: s2s.EventMessage,
		Message: &s2s.Message{Parts: []s2s.Part{{
			InlineData: &s2s.InlineData{MIMEType: "audio/pcm;rate=24000", Data: data},
		}}},
	})
}

// End closes the event channel. Safe to call more than once.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.EventsCh)
	}
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Inputs returns a copy of the recorded SendInput blobs. Thread-safe.
func (s *Session) Inputs() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Blob(nil), s.SendInputCalls...)
}

// Ensure Session implements s2s.Session at compile time.
var _ s2s.Session = (*Session)(nil)
