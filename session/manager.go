package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/liverelay/agent"
	"github.com/room4-2/liverelay/config"
	"github.com/room4-2/liverelay/metrics"
	"github.com/room4-2/liverelay/transport"
)

const cleanupInterval = 1 * time.Minute

// Request describes one client connection handed to the Manager.
type Request struct {
	ID        string // generated when empty
	Kind      transport.Kind
	AudioMode bool
	Adapter   transport.Adapter
	Conn      transport.Conn
}

// Option configures a Manager
type Option func(*Manager)

// WithStore replaces the Redis mirror configured from REDIS_URL.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the registry and runs one Relay per client connection
type Manager struct {
	config   *config.Config
	factory  agent.Factory
	registry *Registry
	store    Store
	metrics  *metrics.Metrics
	logger   *slog.Logger

	pending  atomic.Int64
	stopOnce sync.Once

	mu     sync.Mutex
	closed bool
	relays map[*Relay]struct{}
}

// NewManager creates a session manager. When no store is given it tries Redis
// and continues without the mirror if Redis is unavailable.
func NewManager(cfg *config.Config, factory agent.Factory, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}

	m := &Manager{
		config:   cfg,
		factory:  factory,
		registry: NewRegistry(),
		relays:   make(map[*Relay]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	if m.store == nil {
		m.store = nopStore{}
		if cfg.RedisURL != "" {
			store, err := NewRedisStore(context.Background(), cfg.RedisURL, cfg.RedisPassword, cfg.SessionTimeout)
			if err != nil {
				m.logger.Warn("redis unavailable, session mirror disabled", "error", err)
			} else {
				m.store = store
				m.logger.Info("session mirror enabled", "redis", cfg.RedisURL)
			}
		}
	}

	return m, nil
}

// Registry exposes lookups for handlers that deliver into running sessions.
func (sm *Manager) Registry() *Registry {
	return sm.registry
}

// Serve runs the relay for req and blocks until it is Closed. The connection
// is always closed when Serve returns.
func (sm *Manager) Serve(ctx context.Context, req Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := sm.logger.With("session", req.ID, "transport", string(req.Kind))

	if sm.isClosed() {
		sm.reject(req, ErrShutdown)
		return ErrShutdown
	}
	if req.AudioMode && !req.Adapter.AudioCapable() {
		logger.Warn("session rejected", "error", ErrAudioUnsupported)
		sm.reject(req, ErrAudioUnsupported)
		return ErrAudioUnsupported
	}

	if !sm.acquire() {
		logger.Warn("session rejected", "error", ErrMaxSessions, "max", sm.config.MaxSessions)
		sm.reject(req, ErrMaxSessions)
		return ErrMaxSessions
	}
	defer sm.release()

	if _, err := sm.registry.Lookup(req.ID); err == nil {
		err := fmt.Errorf("%w: %s", ErrDuplicateSession, req.ID)
		logger.Error("session rejected", "error", err)
		sm.reject(req, err)
		return err
	}

	source, sink, err := sm.factory.Open(ctx, req.ID, req.AudioMode)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrAgentFailure, err)
		logger.Error("agent session open failed", "error", err)
		sm.reject(req, err)
		return err
	}

	relay := NewRelay(NewSession(req.ID, req.Kind, req.AudioMode), req.Adapter, req.Conn, source, sink, RelayConfig{
		Registry:      sm.registry,
		Store:         sm.store,
		Metrics:       sm.metrics,
		Logger:        sm.logger,
		CoalesceBytes: sm.config.AudioCoalesceBytes,
		MaxBufferSize: sm.config.MaxBufferSize,
	})

	sm.mu.Lock()
	if sm.closed {
		// Shutdown started while the agent session was opening
		relay.Abort(ErrShutdown)
	}
	sm.relays[relay] = struct{}{}
	sm.mu.Unlock()

	defer func() {
		sm.mu.Lock()
		delete(sm.relays, relay)
		sm.mu.Unlock()
	}()
	return relay.Run(ctx)
}

// acquire takes a MaxSessions slot. Slots cover relays from admission to
// Closed, including agent setup, and bounded turns.
func (sm *Manager) acquire() bool {
	if n := sm.pending.Add(1); n > int64(sm.config.MaxSessions) {
		sm.pending.Add(-1)
		return false
	}
	return true
}

func (sm *Manager) release() {
	sm.pending.Add(-1)
}

func (sm *Manager) isClosed() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.closed
}

func (sm *Manager) reject(req Request, err error) {
	if frame, ok := req.Adapter.EncodeError(err); ok {
		_ = req.Conn.WriteFrame(context.Background(), frame)
	}
	_ = req.Conn.Close()
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	return sm.registry.Count()
}

// CleanupInactiveSessions aborts sessions idle for longer than SessionTimeout
func (sm *Manager) CleanupInactiveSessions() int {
	if sm.config.SessionTimeout <= 0 {
		return 0
	}

	n := 0
	now := time.Now()
	for id, in := range sm.registry.Snapshot() {
		if idle := now.Sub(in.LastActivity()); idle > sm.config.SessionTimeout {
			sm.logger.Info("aborting idle session", "session", id, "idle", idle.Round(time.Second).String())
			in.Abort(ErrIdleTimeout)
			n++
		}
	}
	return n
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions()
		}
	}
}

// Shutdown aborts every session, waits for their relays up to ctx and closes the store.
func (sm *Manager) Shutdown(ctx context.Context) error {
	var err error
	sm.stopOnce.Do(func() {
		sm.mu.Lock()
		sm.closed = true
		relays := make([]*Relay, 0, len(sm.relays))
		for r := range sm.relays {
			relays = append(relays, r)
		}
		sm.mu.Unlock()

		sm.logger.Info("shutting down sessions", "count", len(relays))
		for _, r := range relays {
			r.Abort(ErrShutdown)
		}
	wait:
		for _, r := range relays {
			select {
			case <-r.Done():
			case <-ctx.Done():
				err = fmt.Errorf("waiting for sessions: %w", ctx.Err())
				break wait
			}
		}

		if cerr := sm.store.Close(); cerr != nil {
			sm.logger.Warn("session mirror close failed", "error", cerr)
		}
	})
	return err
}
