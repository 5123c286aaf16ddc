package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/room4-2/liverelay/agent"
)

// Ask runs a single bounded turn: it opens a text session, sends text and
// returns the agent's final reply. It gives up after config.IVRTimeout and
// counts against MaxSessions while it runs.
func (sm *Manager) Ask(ctx context.Context, text string) (string, error) {
	if sm.isClosed() {
		return "", ErrShutdown
	}
	if !sm.acquire() {
		sm.logger.Warn("bounded turn rejected", "error", ErrMaxSessions, "max", sm.config.MaxSessions)
		return "", ErrMaxSessions
	}
	defer sm.release()
	if sm.config.IVRTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.config.IVRTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	source, sink, err := sm.factory.Open(ctx, id, false)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrAskTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrAgentFailure, err)
	}
	defer sink.Close()

	if err := sink.SendText(ctx, text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAgentFailure, err)
	}

	reply, err := awaitReply(ctx, source)
	if err != nil {
		sm.logger.Warn("bounded turn failed", "session", id, "error", err)
		return "", err
	}
	return reply, nil
}

// awaitReply reads events until a final text, a turn boundary or ctx expiry.
// Partial fragments are joined when the agent never sends a final text.
func awaitReply(ctx context.Context, source agent.Source) (string, error) {
	var partial strings.Builder
	for {
		ev, err := source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				return "", ErrAskTimeout
			case errors.Is(err, io.EOF) && partial.Len() > 0:
				return strings.TrimSpace(partial.String()), nil
			case errors.Is(err, io.EOF):
				return "", ErrSessionClosed
			default:
				return "", fmt.Errorf("%w: %v", ErrAgentFailure, err)
			}
		}

		if ev.Text != "" && !ev.Partial {
			return ev.Text, nil
		}
		if ev.Partial {
			partial.WriteString(ev.Text)
		}
		if ev.TurnComplete || ev.Interrupted {
			return strings.TrimSpace(partial.String()), nil
		}
	}
}
