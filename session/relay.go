package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/room4-2/liverelay/agent"
	"github.com/room4-2/liverelay/audio"
	"github.com/room4-2/liverelay/messages"
	"github.com/room4-2/liverelay/metrics"
	"github.com/room4-2/liverelay/transport"
)

// State is the relay's lifecycle: Starting, Running, Draining, Closed.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Registrar is the part of the Registry a relay needs.
type Registrar interface {
	Register(id string, in Inbound) error
	Unregister(id string)
}

// RelayConfig carries a relay's collaborators. Nil fields fall back to no-ops.
type RelayConfig struct {
	Registry Registrar
	Store    Store
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// CoalesceBytes > 0 batches inbound audio up to that many bytes.
	CoalesceBytes int
	MaxBufferSize int
}

// Relay forwards envelopes between one client connection and one agent session
// until either side ends. Teardown happens exactly once.
type Relay struct {
	session *Session
	adapter transport.Adapter
	conn    transport.Conn
	source  agent.Source
	sink    agent.Sink

	registry Registrar
	store    Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	buffer   *AudioBuffer

	state      atomic.Int32
	started    atomic.Bool
	registered atomic.Bool
	mirrored   atomic.Bool

	// sendMu serializes deliveries into the sink from the inbound task and
	// from the registry.
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	causeMu sync.Mutex
	cause   error

	drainOnce    sync.Once
	teardownOnce sync.Once
	done         chan struct{}
}

// NewRelay wires a session to its client connection and agent session.
// Nothing runs until Run is called.
func NewRelay(s *Session, adapter transport.Adapter, conn transport.Conn, source agent.Source, sink agent.Sink, cfg RelayConfig) *Relay {
	if cfg.Store == nil {
		cfg.Store = nopStore{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Relay{
		session:  s,
		adapter:  adapter,
		conn:     conn,
		source:   source,
		sink:     sink,
		registry: cfg.Registry,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("session", s.ID, "transport", string(s.Kind)),
		done:     make(chan struct{}),
	}
	if cfg.CoalesceBytes > 0 {
		r.buffer = NewAudioBuffer(cfg.CoalesceBytes, cfg.MaxBufferSize)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Session returns the metadata of the relayed session
func (r *Relay) Session() *Session { return r.session }

// State returns the current lifecycle state
func (r *Relay) State() State { return State(r.state.Load()) }

// Done is closed once the relay reaches Closed.
func (r *Relay) Done() <-chan struct{} { return r.done }

// LastActivity implements Inbound.
func (r *Relay) LastActivity() time.Time { return r.session.LastActivity() }

// Run registers the session, forwards in both directions and blocks until the
// relay is Closed. Expected endings (client disconnect, end of stream, agent
// end) return nil; anything else returns the error that started the drain.
func (r *Relay) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}

	if r.registry != nil {
		if err := r.registry.Register(r.session.ID, r); err != nil {
			r.logger.Error("session rejected", "error", err)
			r.reportError(err)
			r.drain(err)
			r.teardown()
			return err
		}
		r.registered.Store(true)
	}

	stop := context.AfterFunc(ctx, func() { r.drain(ctx.Err()) })
	defer stop()

	if err := r.store.Save(r.ctx, r.session); err != nil {
		r.logger.Warn("session mirror save failed", "error", err)
	}
	r.metrics.RecordSessionStart()
	r.mirrored.Store(true)

	// Close or Abort may have raced with the Starting phase.
	if !r.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		r.teardown()
		return r.result()
	}
	r.logger.Info("session started", "audio_mode", r.session.AudioMode)

	results := make(chan error, 2)
	go func() { results <- r.inbound(r.ctx) }()
	go func() { results <- r.outbound(r.ctx) }()

	r.drain(<-results)
	<-results
	r.teardown()

	return r.result()
}

// Close drains the relay and waits for it to reach Closed. It is safe to call
// more than once and from any goroutine other than the relay's own tasks.
func (r *Relay) Close() error {
	r.drain(nil)
	if r.started.CompareAndSwap(false, true) {
		// never ran
		r.teardown()
		return nil
	}
	<-r.done
	return nil
}

// Abort starts draining with cause and returns without waiting.
func (r *Relay) Abort(cause error) {
	r.drain(cause)
}

// Deliver forwards env to the agent. It is used by the inbound task and by
// the registry for requests that arrive on a separate connection.
func (r *Relay) Deliver(ctx context.Context, env messages.Envelope) error {
	if r.State() >= StateDraining {
		return ErrSessionClosed
	}
	if env.IsEmpty() {
		return nil
	}
	r.session.touch()

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	var err error
	switch env.Kind {
	case messages.KindText:
		// audio received before the text turn goes first
		if err = r.flushAudioLocked(ctx); err == nil {
			err = r.sink.SendText(ctx, env.Text)
		}
	case messages.KindAudio:
		var frame messages.AudioFrame
		frame, err = audio.ToAgentFormat(env.Audio)
		if err != nil {
			return err
		}
		err = r.sendAudioLocked(ctx, frame.Samples)
	case messages.KindControl:
		return nil
	}
	if err != nil {
		if errors.Is(err, agent.ErrClosed) {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: %v", ErrAgentFailure, err)
	}

	r.metrics.RecordFrame("inbound", env.Kind.String())
	return nil
}

func (r *Relay) sendAudioLocked(ctx context.Context, pcm []byte) error {
	r.metrics.RecordAudio("inbound", len(pcm))
	if r.buffer == nil {
		return r.sink.SendAudio(ctx, pcm)
	}

	ready, err := r.buffer.Append(pcm)
	if errors.Is(err, ErrBufferFull) {
		if err := r.flushAudioLocked(ctx); err != nil {
			return err
		}
		ready, err = r.buffer.Append(pcm)
	}
	if err != nil {
		// a single chunk larger than the buffer goes straight through
		return r.sink.SendAudio(ctx, pcm)
	}
	if ready {
		return r.flushAudioLocked(ctx)
	}
	return nil
}

func (r *Relay) flushAudioLocked(ctx context.Context) error {
	if r.buffer == nil {
		return nil
	}
	if pcm := r.buffer.Flush(); len(pcm) > 0 {
		return r.sink.SendAudio(ctx, pcm)
	}
	return nil
}

func (r *Relay) inbound(ctx context.Context) error {
	for {
		frame, err := r.conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		r.session.touch()

		env, err := r.adapter.Decode(frame)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrEndOfStream):
			r.sendMu.Lock()
			flushErr := r.flushAudioLocked(ctx)
			r.sendMu.Unlock()
			if flushErr != nil {
				r.logger.Warn("flush buffered audio failed", "error", flushErr)
			}
			return err
		case errors.Is(err, transport.ErrMalformedFrame):
			r.logger.Warn("skipping malformed frame", "error", err)
			r.metrics.RecordDecodeError(string(r.session.Kind), "malformed")
			continue
		case errors.Is(err, transport.ErrUnsupportedMimeType):
			r.metrics.RecordDecodeError(string(r.session.Kind), "unsupported_mime_type")
			r.reportError(err)
			return err
		default:
			return err
		}

		if err := r.Deliver(ctx, env); err != nil {
			if errors.Is(err, audio.ErrUnsupportedFormat) {
				r.logger.Warn("skipping audio frame", "error", err)
				continue
			}
			return err
		}
	}
}

func (r *Relay) outbound(ctx context.Context) error {
	for {
		ev, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrAgentFailure, err)
		}

		env, ok := classify(ev)
		if !ok {
			continue
		}
		r.session.touch()

		frame, ok, err := r.adapter.Encode(env)
		if err != nil {
			r.logger.Warn("dropping outbound envelope", "kind", env.Kind.String(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := r.conn.WriteFrame(ctx, frame); err != nil {
			return err
		}

		r.metrics.RecordFrame("outbound", env.Kind.String())
		if env.Kind == messages.KindAudio {
			r.metrics.RecordAudio("outbound", len(env.Audio.Samples))
		}
	}
}

// classify maps an agent event to the envelope sent to the client. Final text
// is not re-emitted: the client already received it as partial fragments.
func classify(ev agent.Event) (messages.Envelope, bool) {
	switch {
	case ev.TurnComplete || ev.Interrupted:
		return messages.NewControl(ev.TurnComplete, ev.Interrupted), true
	case len(ev.Audio) > 0 && audio.IsPCMMimeType(ev.AudioMIMEType):
		return messages.NewAudio(messages.AudioFrame{
			Samples:      ev.Audio,
			SampleRateHz: audio.SampleRateFromMime(ev.AudioMIMEType),
			BitDepth:     audio.AgentBitDepth,
			Channels:     audio.AgentChannels,
		}), true
	case ev.Partial && ev.Text != "":
		return messages.NewText(ev.Text), true
	default:
		return messages.Envelope{}, false
	}
}

func (r *Relay) reportError(err error) {
	frame, ok := r.adapter.EncodeError(err)
	if !ok {
		return
	}
	if werr := r.conn.WriteFrame(r.ctx, frame); werr != nil {
		r.logger.Debug("error frame not delivered", "error", werr)
	}
}

func (r *Relay) drain(cause error) {
	r.drainOnce.Do(func() {
		r.causeMu.Lock()
		r.cause = cause
		r.causeMu.Unlock()

		r.state.Store(int32(StateDraining))
		r.session.advance(StatusClosing)
		r.cancel()

		if err := r.sink.Close(); err != nil {
			r.logger.Debug("agent close", "error", err)
		}
		if err := r.conn.Close(); err != nil {
			r.logger.Debug("transport close", "error", err)
		}
		if r.mirrored.Load() {
			if err := r.store.UpdateStatus(context.Background(), r.session.ID, StatusClosing); err != nil {
				r.logger.Warn("session mirror update failed", "error", err)
			}
		}
	})
}

func (r *Relay) teardown() {
	r.teardownOnce.Do(func() {
		cause := r.result()
		if r.registered.Load() {
			r.registry.Unregister(r.session.ID)
		}
		if r.mirrored.Load() {
			if err := r.store.Delete(context.Background(), r.session.ID); err != nil {
				r.logger.Warn("session mirror delete failed", "error", err)
			}
			r.metrics.RecordSessionEnd(string(r.session.Kind), outcome(cause), time.Since(r.session.CreatedAt))
		}
		r.session.advance(StatusClosed)
		r.state.Store(int32(StateClosed))

		switch {
		case cause == nil:
			r.logger.Info("session closed")
		case errors.Is(cause, ErrIdleTimeout), errors.Is(cause, ErrShutdown):
			r.logger.Info("session closed", "reason", cause.Error())
		default:
			r.logger.Error("session failed", "error", cause)
		}
		close(r.done)
	})
}

func (r *Relay) result() error {
	r.causeMu.Lock()
	defer r.causeMu.Unlock()
	if isExpectedEnd(r.cause) {
		return nil
	}
	return r.cause
}

func isExpectedEnd(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, transport.ErrEndOfStream) ||
		errors.Is(err, transport.ErrDisconnected) ||
		errors.Is(err, agent.ErrClosed) ||
		errors.Is(err, ErrSessionClosed)
}

func outcome(err error) string {
	switch {
	case isExpectedEnd(err):
		return "completed"
	case errors.Is(err, transport.ErrUnsupportedMimeType):
		return "unsupported_mime_type"
	case errors.Is(err, ErrAgentFailure):
		return "agent_failure"
	case errors.Is(err, ErrIdleTimeout):
		return "idle_timeout"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	default:
		return "error"
	}
}
