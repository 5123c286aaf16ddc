// Package server exposes the relay over HTTP: a browser server for WebSocket
// and Server-Sent-Events clients and a telephony server for Twilio.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/room4-2/liverelay/transport"
)

const (
	socketBufferSize  = 64 * 1024 // 64KB for audio chunks
	readHeaderTimeout = 10 * time.Second
)

type healthResponse struct {
	Status   string `json:"status"`
	Server   string `json:"server,omitempty"`
	Sessions int    `json:"sessions"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	body, err := transport.MarshalJSON(v)
	if err != nil {
		logger.Error("encode response failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// audioMode reads the is_audio query flag; anything unparsable means text.
func audioMode(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("is_audio"))
	return err == nil && v
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// withCORS answers preflight requests so browsers can POST to the sidecar endpoint.
func withCORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
