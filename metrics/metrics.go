package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	FramesTotal     *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "liverelay"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of relays currently running",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Relays that reached the closed state",
		},
		[]string{"transport", "outcome"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Relay lifetime in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"transport"},
	)

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Envelopes forwarded by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	decodeErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames that failed to decode",
		},
		[]string{"transport", "reason"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes relayed",
		},
		[]string{"direction"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		decodeErrors,
		audioBytesTotal,
	)

	return &Metrics{
		registry:        registry,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		SessionDuration: sessionDuration,
		FramesTotal:     framesTotal,
		DecodeErrors:    decodeErrors,
		AudioBytesTotal: audioBytesTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a relay entering the running state.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a relay reaching the closed state.
func (m *Metrics) RecordSessionEnd(transport, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(transport, outcome).Inc()
	m.SessionDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordFrame records one forwarded envelope. direction is "inbound" or "outbound".
func (m *Metrics) RecordFrame(direction, kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, kind).Inc()
}

// RecordDecodeError records an inbound frame that could not be decoded.
func (m *Metrics) RecordDecodeError(transport, reason string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(transport, reason).Inc()
}

// RecordAudio records relayed audio bytes.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}
