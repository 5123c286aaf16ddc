package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/room4-2/liverelay/audio"
	"github.com/room4-2/liverelay/messages"
)

func TestWebSocketJSON_TextRoundTrip(t *testing.T) {
	a := NewWebSocketJSON()

	for _, text := range []string{"hello", "", "ünïcode ✓", `quotes "and" <tags>`} {
		frame, ok, err := a.Encode(messages.NewText(text))
		if err != nil {
			t.Fatalf("encode %q: %v", text, err)
		}
		if text == "" {
			if ok {
				t.Fatalf("empty text should produce no frame, got %s", frame)
			}
			continue
		}
		if !ok {
			t.Fatalf("encode %q produced no frame", text)
		}

		env, err := a.Decode(frame)
		if err != nil {
			t.Fatalf("decode %s: %v", frame, err)
		}
		if env.Kind != messages.KindText || env.Text != text {
			t.Errorf("round trip got %+v, want text %q", env, text)
		}
	}
}

func TestWebSocketJSON_AudioRoundTrip(t *testing.T) {
	a := NewWebSocketJSON()
	pcm := []byte{0x00, 0x01, 0xFE, 0xFF, 0x10, 0x80}

	frame, ok, err := a.Encode(messages.NewAudio(audio.AgentFrame(pcm)))
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(string(frame), `"mime_type":"audio/pcm"`) {
		t.Fatalf("unexpected frame %s", frame)
	}

	env, err := a.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != messages.KindAudio || !bytes.Equal(env.Audio.Samples, pcm) {
		t.Fatalf("round trip got %+v", env)
	}
	if !audio.IsAgentFormat(env.Audio) {
		t.Errorf("browser audio should be tagged with agent framing, got %+v", env.Audio)
	}
}

func TestWebSocketJSON_ControlFrame(t *testing.T) {
	frame, ok, err := NewWebSocketJSON().Encode(messages.NewControl(true, false))
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}
	if string(frame) != `{"turn_complete":true,"interrupted":false}` {
		t.Errorf("got %s", frame)
	}

	if _, ok, _ := NewWebSocketJSON().Encode(messages.NewControl(false, false)); ok {
		t.Error("control without flags should produce no frame")
	}
}

func TestWebSocketJSON_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{name: "not json", frame: `{nope`, wantErr: ErrMalformedFrame},
		{name: "missing mime", frame: `{"data":"x"}`, wantErr: ErrMalformedFrame},
		{name: "missing data", frame: `{"mime_type":"text/plain"}`, wantErr: ErrMalformedFrame},
		{name: "bad base64", frame: `{"mime_type":"audio/pcm","data":"%%%"}`, wantErr: ErrMalformedFrame},
		{name: "video", frame: `{"mime_type":"video/mp4","data":"AAAA"}`, wantErr: ErrUnsupportedMimeType},
	}

	a := NewWebSocketJSON()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Decode([]byte(tt.frame))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWebSocketJSON_EncodeErrorNamesMimeType(t *testing.T) {
	a := NewWebSocketJSON()
	_, err := a.Decode([]byte(`{"mime_type":"video/mp4","data":""}`))

	frame, ok := a.EncodeError(err)
	if !ok {
		t.Fatal("expected an error frame")
	}
	if string(frame) != `{"error":"Mime type not supported: video/mp4"}` {
		t.Errorf("got %s", frame)
	}
}

func TestServerSentEvents_Encode(t *testing.T) {
	a := NewServerSentEvents()

	frame, ok, err := a.Encode(messages.NewText("hel"))
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}
	if string(frame) != "data: {\"mime_type\":\"text/plain\",\"data\":\"hel\"}\n\n" {
		t.Errorf("got %q", frame)
	}

	frame, _, _ = a.Encode(messages.NewControl(false, true))
	if string(frame) != "data: {\"turn_complete\":false,\"interrupted\":true}\n\n" {
		t.Errorf("got %q", frame)
	}

	if _, ok := a.EncodeError(errors.New("boom")); ok {
		t.Error("SSE has no inline error channel")
	}
}

func TestTwilioMediaStream_Decode(t *testing.T) {
	a := NewTwilioMediaStream(false)
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x00, 0x80})

	env, err := a.Decode([]byte(`{"event":"connected","protocol":"Call"}`))
	if err != nil || !env.IsEmpty() {
		t.Fatalf("connected: %+v %v", env, err)
	}

	env, err = a.Decode([]byte(`{"event":"start","start":{"streamSid":"MZ123","callSid":"CA1"}}`))
	if err != nil || !env.IsEmpty() {
		t.Fatalf("start: %+v %v", env, err)
	}
	if a.StreamSid() != "MZ123" {
		t.Fatalf("streamSid = %q", a.StreamSid())
	}

	env, err = a.Decode([]byte(`{"event":"media","media":{"payload":"` + payload + `"}}`))
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if env.Kind != messages.KindAudio || env.Audio.SampleRateHz != audio.TelephonySampleRate || env.Audio.BitDepth != 8 {
		t.Fatalf("media should keep native framing, got %+v", env.Audio)
	}
	if len(env.Audio.Samples) != 3 {
		t.Fatalf("got %d samples", len(env.Audio.Samples))
	}

	if _, err := a.Decode([]byte(`{"event":"stop"}`)); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("stop: got %v", err)
	}
}

func TestTwilioMediaStream_DecodeMalformed(t *testing.T) {
	a := NewTwilioMediaStream(false)
	for _, frame := range []string{
		`not json`,
		`{"media":{"payload":"AAAA"}}`,
		`{"event":"media"}`,
		`{"event":"media","media":{"payload":"***"}}`,
	} {
		if _, err := a.Decode([]byte(frame)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s: got %v, want ErrMalformedFrame", frame, err)
		}
	}
}

func TestTwilioMediaStream_StartWithoutStreamSid(t *testing.T) {
	a := NewTwilioMediaStream(false)
	for _, frame := range []string{`{"event":"start"}`, `{"event":"start","start":{}}`} {
		env, err := a.Decode([]byte(frame))
		if err != nil || !env.IsEmpty() {
			t.Fatalf("%s: %+v %v", frame, env, err)
		}
	}
	if a.StreamSid() != "" {
		t.Fatalf("streamSid = %q", a.StreamSid())
	}

	frame, ok, err := a.Encode(messages.NewControl(false, true))
	if err != nil || !ok || string(frame) != `{"event":"clear"}` {
		t.Errorf("clear without sid: ok=%v err=%v frame=%s", ok, err, frame)
	}
}

func TestTwilioMediaStream_Encode(t *testing.T) {
	a := NewTwilioMediaStream(false)
	_, _ = a.Decode([]byte(`{"event":"start","streamSid":"MZ9"}`))

	pcm := []byte{1, 2, 3, 4}
	frame, ok, err := a.Encode(messages.NewAudio(messages.AudioFrame{Samples: pcm, SampleRateHz: 24000, BitDepth: 16, Channels: 1}))
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}
	want := `{"event":"media","streamSid":"MZ9","media":{"payload":"` + base64.StdEncoding.EncodeToString(pcm) + `"}}`
	if string(frame) != want {
		t.Errorf("got %s\nwant %s", frame, want)
	}

	frame, ok, _ = a.Encode(messages.NewControl(false, true))
	if !ok || string(frame) != `{"event":"clear","streamSid":"MZ9"}` {
		t.Errorf("interrupted: ok=%v frame=%s", ok, frame)
	}

	if _, ok, _ := a.Encode(messages.NewText("hi")); ok {
		t.Error("text should not be written to a media stream")
	}
	if _, ok, _ := a.Encode(messages.NewControl(true, false)); ok {
		t.Error("turn complete should not be written to a media stream")
	}
}

func TestTwilioMediaStream_EncodeTranscodes(t *testing.T) {
	a := NewTwilioMediaStream(true)
	pcm := make([]byte, 480*2) // 20ms at 24kHz

	frame, ok, err := a.Encode(messages.NewAudio(messages.AudioFrame{Samples: pcm, SampleRateHz: 24000, BitDepth: 16, Channels: 1}))
	if err != nil || !ok {
		t.Fatalf("encode: ok=%v err=%v", ok, err)
	}

	var out messages.TwilioMessageBack
	if err := unmarshal(frame, &out); err != nil {
		t.Fatal(err)
	}
	muLaw, _ := base64.StdEncoding.DecodeString(out.Media.Payload)
	if len(muLaw) != 160 {
		t.Errorf("got %d mu-law bytes, want 160", len(muLaw))
	}
}

func TestSSEConn(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/events/1", nil)

	conn, err := NewSSEConn(rec, req)
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type %q", got)
	}

	if err := conn.WriteFrame(context.Background(), []byte("data: {}\n\n")); err != nil {
		t.Fatal(err)
	}
	_ = conn.Close()
	_ = conn.Close()

	if err := conn.WriteFrame(context.Background(), []byte("data: late\n\n")); !errors.Is(err, ErrDisconnected) {
		t.Errorf("write after close: %v", err)
	}
	if _, err := conn.ReadFrame(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Errorf("read after close: %v", err)
	}
	if rec.Body.String() != "data: {}\n\n" {
		t.Errorf("body %q", rec.Body.String())
	}
}
