package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/room4-2/liverelay/agent"
	"github.com/room4-2/liverelay/functions"
)

const (
	inputAudioMIMEType = "audio/pcm;rate=16000"
	eventBufferSize    = 256
)

// liveSession is the part of *genai.Session the proxy uses
type liveSession interface {
	Receive() (*genai.LiveServerMessage, error)
	SendClientContent(input genai.LiveClientContentInput) error
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Close() error
}

// Proxy adapts one Gemini Live session to agent.Source and agent.Sink. Tool
// calls are answered internally and never reach the relay.
type Proxy struct {
	session   liveSession
	tools     *functions.Registry
	audioMode bool
	logger    *slog.Logger

	events   chan agent.Event
	done     chan struct{}
	recvDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	errMu   sync.Mutex
	recvErr error

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newProxy(session liveSession, tools *functions.Registry, audioMode bool, logger *slog.Logger) *Proxy {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Proxy{
		session:   session,
		tools:     tools,
		audioMode: audioMode,
		logger:    logger,
		events:    make(chan agent.Event, eventBufferSize),
		done:      make(chan struct{}),
		recvDone:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go p.receiveLoop()
	return p
}

func (p *Proxy) receiveLoop() {
	defer close(p.recvDone)

	turn := turnTranslator{dropAudio: !p.audioMode}
	for {
		msg, err := p.session.Receive()
		if err != nil {
			if !p.closed.Load() && !isNormalClose(err) {
				p.logger.Error("gemini receive failed", "error", err)
				p.errMu.Lock()
				p.recvErr = err
				p.errMu.Unlock()
			}
			return
		}

		if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
			p.handleToolCalls(msg.ToolCall.FunctionCalls)
		}

		for _, ev := range turn.translate(msg) {
			select {
			case p.events <- ev:
			case <-p.done:
				return
			}
		}
	}
}

func isNormalClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Next returns the next event, io.EOF once the session has ended normally, or
// the receive error that ended it.
func (p *Proxy) Next(ctx context.Context) (agent.Event, error) {
	select {
	case ev := <-p.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-p.events:
		return ev, nil
	case <-p.recvDone:
		select {
		case ev := <-p.events:
			return ev, nil
		default:
		}
		p.errMu.Lock()
		err := p.recvErr
		p.errMu.Unlock()
		if err != nil {
			return agent.Event{}, fmt.Errorf("gemini: %w", err)
		}
		return agent.Event{}, io.EOF
	case <-p.done:
		return agent.Event{}, io.EOF
	case <-ctx.Done():
		return agent.Event{}, ctx.Err()
	}
}

// SendText sends a complete user turn
func (p *Proxy) SendText(ctx context.Context, text string) error {
	return p.send(ctx, func(s liveSession) error {
		return s.SendClientContent(genai.LiveClientContentInput{
			Turns: []*genai.Content{
				{
					Role:  "user",
					Parts: []*genai.Part{{Text: text}},
				},
			},
			TurnComplete: genai.Ptr(true),
		})
	})
}

// SendAudio streams 16 kHz mono PCM16; Gemini runs its own voice activity detection.
func (p *Proxy) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return p.send(ctx, func(s liveSession) error {
		return s.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{
				MIMEType: inputAudioMIMEType,
				Data:     pcm,
			},
		})
	})
}

func (p *Proxy) send(ctx context.Context, fn func(liveSession) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.closed.Load() {
		return agent.ErrClosed
	}
	if err := fn(p.session); err != nil {
		return fmt.Errorf("gemini send: %w", err)
	}
	return nil
}

func (p *Proxy) handleToolCalls(calls []*genai.FunctionCall) {
	responses := make([]*genai.FunctionResponse, 0, len(calls))
	for _, fc := range calls {
		if fc == nil {
			continue
		}
		p.logger.Info("function call", "name", fc.Name, "id", fc.ID)
		responses = append(responses, p.tools.Call(p.ctx, fc))
	}

	err := p.send(p.ctx, func(s liveSession) error {
		return s.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
	})
	if err != nil && !errors.Is(err, agent.ErrClosed) {
		p.logger.Warn("tool response failed", "error", err)
	}
}

// Close ends the Live session. It is idempotent and safe after the source ended.
func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.cancel()
		close(p.done)

		p.sendMu.Lock()
		err = p.session.Close()
		p.sendMu.Unlock()
	})
	return err
}

// turnTranslator turns server messages into agent events. Text fragments are
// emitted as partial events and once more, joined, as the final text of the turn.
// With dropAudio set only the text survives.
type turnTranslator struct {
	dropAudio bool
	text      strings.Builder
}

func (t *turnTranslator) translate(msg *genai.LiveServerMessage) []agent.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var out []agent.Event
	if sc.Interrupted {
		t.text.Reset()
		out = append(out, agent.Event{Interrupted: true})
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 && !t.dropAudio {
				out = append(out, agent.Event{
					Audio:         part.InlineData.Data,
					AudioMIMEType: part.InlineData.MIMEType,
				})
			}
			if part.Text != "" {
				t.text.WriteString(part.Text)
				out = append(out, agent.Event{Text: part.Text, Partial: true})
			}
		}
	}

	if tr := sc.OutputTranscription; tr != nil && tr.Text != "" {
		t.text.WriteString(tr.Text)
		out = append(out, agent.Event{Text: tr.Text, Partial: true})
	}

	if sc.TurnComplete {
		if final := strings.TrimSpace(t.text.String()); final != "" {
			out = append(out, agent.Event{Text: final})
		}
		t.text.Reset()
		out = append(out, agent.Event{TurnComplete: true})
	}
	return out
}
