package transport

import (
	"encoding/base64"

	"github.com/room4-2/liverelay/audio"
	"github.com/room4-2/liverelay/messages"
)

// WebSocketJSON speaks {"mime_type", "data"} frames in both directions.
type WebSocketJSON struct{}

// NewWebSocketJSON creates the browser WebSocket adapter
func NewWebSocketJSON() *WebSocketJSON {
	return &WebSocketJSON{}
}

func (a *WebSocketJSON) Kind() Kind { return KindWebSocket }

func (a *WebSocketJSON) AudioCapable() bool { return true }

func (a *WebSocketJSON) Decode(frame []byte) (messages.Envelope, error) {
	return decodeClientFrame(frame)
}

func (a *WebSocketJSON) Encode(env messages.Envelope) ([]byte, bool, error) {
	v, ok := clientFrameFor(env)
	if !ok {
		return nil, false, nil
	}
	b, err := marshal(v)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (a *WebSocketJSON) EncodeError(err error) ([]byte, bool) {
	b, mErr := marshal(messages.NewErrorMessage(ErrorMessage(err)))
	if mErr != nil {
		return nil, false
	}
	return b, true
}

// inboundClientFrame uses pointers so absent fields can be told apart from empty ones
type inboundClientFrame struct {
	MimeType *string `json:"mime_type"`
	Data     *string `json:"data"`
}

// decodeClientFrame is shared by the WebSocket endpoint and the sidecar POST.
func decodeClientFrame(frame []byte) (messages.Envelope, error) {
	var in inboundClientFrame
	if err := unmarshal(frame, &in); err != nil {
		return messages.Envelope{}, malformed("invalid json: %v", err)
	}
	if in.MimeType == nil {
		return messages.Envelope{}, malformed("missing mime_type")
	}
	if in.Data == nil {
		return messages.Envelope{}, malformed("missing data")
	}

	switch *in.MimeType {
	case messages.MimeTextPlain:
		return messages.NewText(*in.Data), nil
	case messages.MimeAudioPCM:
		pcm, err := base64.StdEncoding.DecodeString(*in.Data)
		if err != nil {
			return messages.Envelope{}, malformed("invalid base64 audio: %v", err)
		}
		return messages.NewAudio(audio.AgentFrame(pcm)), nil
	default:
		return messages.Envelope{}, &UnsupportedMimeTypeError{MimeType: *in.MimeType}
	}
}

// clientFrameFor maps an envelope to the browser wire shape
func clientFrameFor(env messages.Envelope) (any, bool) {
	if env.IsEmpty() {
		return nil, false
	}
	switch env.Kind {
	case messages.KindText:
		return messages.ClientFrame{MimeType: messages.MimeTextPlain, Data: env.Text}, true
	case messages.KindAudio:
		return messages.ClientFrame{
			MimeType: messages.MimeAudioPCM,
			Data:     base64.StdEncoding.EncodeToString(env.Audio.Samples),
		}, true
	case messages.KindControl:
		return messages.ControlFrame{
			TurnComplete: env.Control.TurnComplete,
			Interrupted:  env.Control.Interrupted,
		}, true
	}
	return nil, false
}
