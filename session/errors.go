package session

import "errors"

var (
	ErrDuplicateSession = errors.New("session already registered")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMaxSessions      = errors.New("maximum sessions reached")
	ErrSessionClosed    = errors.New("session closed")
	ErrAgentFailure     = errors.New("agent session failed")
	ErrAskTimeout       = errors.New("timed out waiting for agent reply")
	ErrIdleTimeout      = errors.New("session idle timeout")
	ErrShutdown         = errors.New("server shutting down")
	ErrAudioUnsupported = errors.New("transport cannot carry audio")
)
