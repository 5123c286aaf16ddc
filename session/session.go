package session

import (
	"sync/atomic"
	"time"

	"github.com/room4-2/liverelay/transport"
)

// Status is the externally visible lifecycle of a session. It only moves forward.
type Status int32

const (
	StatusActive Status = iota
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the metadata of one client connection. It is owned by its Relay.
type Session struct {
	ID        string
	Kind      transport.Kind
	AudioMode bool
	CreatedAt time.Time

	status       atomic.Int32
	lastActivity atomic.Int64
}

// NewSession creates an active session stamped with the current time
func NewSession(id string, kind transport.Kind, audioMode bool) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		Kind:      kind,
		AudioMode: audioMode,
		CreatedAt: now,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// advance moves the status to next if that is a forward transition.
func (s *Session) advance(next Status) bool {
	for {
		cur := s.status.Load()
		if Status(cur) >= next {
			return false
		}
		if s.status.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity reports the last time a frame crossed the relay in either direction.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}
