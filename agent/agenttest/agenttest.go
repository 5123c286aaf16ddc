// Package agenttest provides an in-memory agent for exercising relays without a
// live model.
package agenttest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/room4-2/liverelay/agent"
)

// Factory records every session it opens.
type Factory struct {
	// OpenErr, when set, is returned from Open.
	OpenErr error

	mu       sync.Mutex
	sessions map[string]*Session
	opened   chan *Session
}

func NewFactory() *Factory {
	return &Factory{
		sessions: make(map[string]*Session),
		opened:   make(chan *Session, 64),
	}
}

func (f *Factory) Open(ctx context.Context, sessionID string, audioMode bool) (agent.Source, agent.Sink, error) {
	if f.OpenErr != nil {
		return nil, nil, f.OpenErr
	}
	s := NewSession(sessionID, audioMode)

	f.mu.Lock()
	f.sessions[sessionID] = s
	f.mu.Unlock()

	select {
	case f.opened <- s:
	default:
	}
	return s, s, nil
}

// Session returns the session opened under id, if any
func (f *Factory) Session(id string) *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

// WaitOpened blocks until the next session is opened or the timeout expires
func (f *Factory) WaitOpened(timeout time.Duration) *Session {
	select {
	case s := <-f.opened:
		return s
	case <-time.After(timeout):
		return nil
	}
}

// Session is a scripted agent session. Tests push events with Emit and observe
// what the relay sent through Texts, AudioChunks and CloseCount.
type Session struct {
	ID        string
	AudioMode bool

	events chan agent.Event
	closed chan struct{}
	ended  chan struct{}
	textCh chan string

	mu         sync.Mutex
	texts      []string
	audio      [][]byte
	closeCount int
	failErr    error
	endOnce    sync.Once
	closeOnce  sync.Once
}

func NewSession(id string, audioMode bool) *Session {
	return &Session{
		ID:        id,
		AudioMode: audioMode,
		events:    make(chan agent.Event, 64),
		closed:    make(chan struct{}),
		ended:     make(chan struct{}),
		textCh:    make(chan string, 64),
	}
}

// Emit queues an event for the relay
func (s *Session) Emit(ev agent.Event) {
	s.events <- ev
}

// Fail makes the next Next call return err once queued events drain
func (s *Session) Fail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
	s.endOnce.Do(func() { close(s.ended) })
}

// End makes Next return io.EOF once queued events drain
func (s *Session) End() {
	s.endOnce.Do(func() { close(s.ended) })
}

func (s *Session) Next(ctx context.Context) (agent.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.ended:
		s.mu.Lock()
		err := s.failErr
		s.mu.Unlock()
		if err != nil {
			return agent.Event{}, err
		}
		return agent.Event{}, io.EOF
	case <-s.closed:
		return agent.Event{}, io.EOF
	case <-ctx.Done():
		return agent.Event{}, ctx.Err()
	}
}

func (s *Session) SendText(ctx context.Context, text string) error {
	if s.isClosed() {
		return agent.ErrClosed
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	select {
	case s.textCh <- text:
	default:
	}
	return nil
}

func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	if s.isClosed() {
		return agent.ErrClosed
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)

	s.mu.Lock()
	s.audio = append(s.audio, chunk)
	s.mu.Unlock()
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// WaitText returns the next text turn received, or false on timeout
func (s *Session) WaitText(timeout time.Duration) (string, bool) {
	select {
	case text := <-s.textCh:
		return text, true
	case <-time.After(timeout):
		return "", false
	}
}

// Closed is closed once Close has been called
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

func (s *Session) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *Session) AudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
