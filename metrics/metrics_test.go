package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSessionLifecycle(t *testing.T) {
	m := NewMetrics("test")

	m.RecordSessionStart()
	m.RecordSessionStart()
	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Fatalf("active = %v, want 2", got)
	}

	m.RecordSessionEnd("websocket", "disconnect", 3*time.Second)
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("websocket", "disconnect")); got != 1 {
		t.Fatalf("sessions_total = %v, want 1", got)
	}
}

func TestRecordAudioIgnoresEmpty(t *testing.T) {
	m := NewMetrics("test")
	m.RecordAudio("inbound", 0)
	m.RecordAudio("inbound", 640)
	if got := testutil.ToFloat64(m.AudioBytesTotal.WithLabelValues("inbound")); got != 640 {
		t.Fatalf("audio bytes = %v, want 640", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordSessionStart()
	m.RecordSessionEnd("sse", "ok", time.Second)
	m.RecordFrame("inbound", "text")
	m.RecordDecodeError("twilio", "malformed")
	m.RecordAudio("outbound", 10)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := NewMetrics("relaytest")
	m.RecordFrame("outbound", "audio")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `relaytest_frames_total{direction="outbound",kind="audio"} 1`) {
		t.Fatalf("metrics output missing frame counter:\n%s", rec.Body.String())
	}
}
