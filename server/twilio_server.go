package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/room4-2/liverelay/config"
	"github.com/room4-2/liverelay/session"
	"github.com/room4-2/liverelay/transport"
)

const (
	ivrPath         = "/ivr"
	farewellMessage = "Goodbye!"
	timeoutReply    = "Sorry, that took longer than expected."
	failureReply    = "Sorry, something went wrong."
)

type WebsocketTwilio struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	logger         *slog.Logger
}

// NewWebsocketTwilio creates the telephony server
func NewWebsocketTwilio(cfg *config.Config, sessionManager *session.Manager, logger *slog.Logger) *WebsocketTwilio {
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebsocketTwilio{
		sessionManager: sessionManager,
		config:         cfg,
		logger:         logger.With("server", "twilio"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  socketBufferSize,
			WriteBufferSize: socketBufferSize,
			// Twilio doesn't support WebSocket compression
			EnableCompression: false,
			// Twilio connections don't send browser Origin headers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", s.handleWebsocketTwilio)
	mux.HandleFunc("POST /voice", s.handleVoiceCall)
	mux.HandleFunc("POST "+ivrPath, s.handleIVR)
	mux.HandleFunc("GET /health", s.handleHealth)

	// standalone telephony server listens on the main port
	port := cfg.TwilioPort
	if cfg.ServerType == "twilio" {
		port = cfg.Port
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		// No ReadTimeout/WriteTimeout: they interfere with long-lived media streams.
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *WebsocketTwilio) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *WebsocketTwilio) Start() error {
	s.logger.Info("twilio server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests. Sessions are drained by the Manager.
func (s *WebsocketTwilio) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down twilio server")
	return s.httpServer.Shutdown(ctx)
}

func (s *WebsocketTwilio) handleWebsocketTwilio(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("twilio websocket upgrade failed", "error", err)
		return
	}

	err = s.sessionManager.Serve(r.Context(), session.Request{
		Kind:      transport.KindTwilioStream,
		AudioMode: true,
		Adapter:   transport.NewTwilioMediaStream(s.config.TwilioOutboundMuLaw),
		Conn: transport.NewWebSocketConn(conn, transport.WebSocketOptions{
			ReadLimit:       int64(s.config.MaxBufferSize),
			KeepAlivePeriod: s.config.KeepAlivePeriod,
		}),
	})
	if err != nil {
		s.logger.Debug("media stream ended", "error", err)
	}
}

// handleVoiceCall answers Twilio's call webhook with a media stream back to this server.
func (s *WebsocketTwilio) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	host := s.config.PublicHost
	if host == "" {
		host = r.Host
	}
	s.writeTwiML(w, connectStreamResponse("wss://"+host+"/stream", s.config.Greeting))
}

// handleIVR runs one speech turn: Twilio posts what the caller said and gets the
// spoken reply plus the next prompt.
func (s *WebsocketTwilio) handleIVR(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))
	from := r.PostFormValue("From")

	if speech == "" {
		s.writeTwiML(w, replyResponse("", ivrPath, s.config.IVRPrompt))
		return
	}
	s.logger.Info("ivr speech", "from", from, "chars", len(speech))

	if isExitPhrase(speech) {
		s.writeTwiML(w, hangupResponse(farewellMessage))
		return
	}

	reply, err := s.sessionManager.Ask(r.Context(), speech)
	switch {
	case errors.Is(err, session.ErrAskTimeout):
		s.logger.Warn("ivr reply timed out", "from", from)
		reply = timeoutReply
	case err != nil:
		s.logger.Error("ivr reply failed", "from", from, "error", err)
		reply = failureReply
	}
	s.writeTwiML(w, replyResponse(reply, ivrPath, s.config.IVRPrompt))
}

func (s *WebsocketTwilio) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, healthResponse{
		Status:   "ok",
		Server:   "twilio",
		Sessions: s.sessionManager.GetActiveSessionCount(),
	})
}

func (s *WebsocketTwilio) writeTwiML(w http.ResponseWriter, resp twimlResponse) {
	body, err := renderTwiML(resp)
	if err != nil {
		s.logger.Error("render twiml failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(body)
}
