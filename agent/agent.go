// Package agent defines the narrow contract the relay uses to talk to an agent
// runtime: open a session, push user turns and audio into it, and pull its
// events back out.
package agent

import (
	"context"
	"errors"
)

// ErrClosed is returned by Sink methods after Close
var ErrClosed = errors.New("agent session closed")

// Event is one item produced by the agent. Any combination of fields may be set.
type Event struct {
	// Text is a response fragment; Partial marks it as incremental.
	Text    string
	Partial bool

	// Audio is an inline blob described by AudioMIMEType.
	Audio         []byte
	AudioMIMEType string

	TurnComplete bool
	Interrupted  bool
}

// Source yields agent events in order. Next returns io.EOF once the session has
// ended normally and honours ctx cancellation while waiting.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Sink accepts user input. Close is idempotent and safe after the Source ended.
type Sink interface {
	SendText(ctx context.Context, text string) error
	SendAudio(ctx context.Context, pcm []byte) error
	Close() error
}

// Factory opens one agent session per relay.
type Factory interface {
	Open(ctx context.Context, sessionID string, audioMode bool) (Source, Sink, error)
}
