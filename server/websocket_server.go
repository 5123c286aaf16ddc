package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/room4-2/liverelay/config"
	"github.com/room4-2/liverelay/messages"
	"github.com/room4-2/liverelay/metrics"
	"github.com/room4-2/liverelay/session"
	"github.com/room4-2/liverelay/transport"
)

// Server is the browser-facing server: WebSocket, SSE with its sidecar POST,
// health and metrics.
type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	metrics        *metrics.Metrics
	logger         *slog.Logger
	sse            *transport.ServerSentEvents
}

// NewServerWebsocket creates the browser server listening on cfg.Port
func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, mt *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		metrics:        mt,
		logger:         logger.With("server", "websocket"),
		sse:            transport.NewServerSentEvents(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    socketBufferSize,
			WriteBufferSize:   socketBufferSize,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(cfg.AllowedOrigins, origin)
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{id}", s.handleWebSocket)
	mux.HandleFunc("GET /events/{id}", s.handleEvents)
	mux.HandleFunc("POST /send/{id}", s.handleSend)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", mt.Handler())

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: withCORS(cfg.AllowedOrigins, mux),
		// No WriteTimeout: SSE responses stay open for the whole session.
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("server starting",
		"addr", s.httpServer.Addr,
		"websocket", fmt.Sprintf("ws://localhost:%d/ws/{id}", s.config.Port),
		"events", fmt.Sprintf("http://localhost:%d/events/{id}", s.config.Port),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests. Sessions are drained by the Manager.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := r.PathValue("id")
	err = s.sessionManager.Serve(r.Context(), session.Request{
		ID:        id,
		Kind:      transport.KindWebSocket,
		AudioMode: audioMode(r),
		Adapter:   transport.NewWebSocketJSON(),
		Conn: transport.NewWebSocketConn(conn, transport.WebSocketOptions{
			ReadLimit:       int64(s.config.MaxBufferSize),
			KeepAlivePeriod: s.config.KeepAlivePeriod,
			Compression:     true,
		}),
	})
	if err != nil {
		s.logger.Debug("websocket session ended", "session", id, "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.NewSSEConn(w, r)
	if err != nil {
		s.logger.Error("event stream unavailable", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := r.PathValue("id")
	err = s.sessionManager.Serve(r.Context(), session.Request{
		ID:        id,
		Kind:      transport.KindSSE,
		AudioMode: audioMode(r),
		Adapter:   s.sse,
		Conn:      conn,
	})
	if err != nil {
		s.logger.Debug("event stream ended", "session", id, "error", err)
	}
}

// handleSend delivers one client frame into the session streaming on /events/{id}.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	in, err := s.sessionManager.Registry().Lookup(id)
	if err != nil {
		writeJSON(w, s.logger, http.StatusOK, messages.ErrorPayload{Error: messages.SessionNotFoundMessage})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.config.MaxBufferSize)+1))
	if err != nil {
		writeJSON(w, s.logger, http.StatusBadRequest, messages.ErrorPayload{Error: "failed to read request body"})
		return
	}
	if len(body) > s.config.MaxBufferSize {
		writeJSON(w, s.logger, http.StatusRequestEntityTooLarge, messages.ErrorPayload{Error: "request body too large"})
		return
	}

	env, err := s.sse.Decode(body)
	switch {
	case errors.Is(err, transport.ErrUnsupportedMimeType):
		s.metrics.RecordDecodeError(string(transport.KindSSE), "unsupported_mime_type")
		s.logger.Error("unsupported mime type, closing session", "session", id, "error", err)
		in.Abort(err)
		writeJSON(w, s.logger, http.StatusOK, messages.ErrorPayload{Error: transport.ErrorMessage(err)})
		return
	case err != nil:
		s.metrics.RecordDecodeError(string(transport.KindSSE), "malformed")
		s.logger.Warn("malformed frame", "session", id, "error", err)
		writeJSON(w, s.logger, http.StatusBadRequest, messages.ErrorPayload{Error: err.Error()})
		return
	}

	if err := in.Deliver(r.Context(), env); err != nil {
		s.logger.Warn("delivery failed", "session", id, "error", err)
		writeJSON(w, s.logger, http.StatusOK, messages.ErrorPayload{Error: err.Error()})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, messages.StatusPayload{Status: "sent"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.sessionManager.GetActiveSessionCount(),
	})
}
