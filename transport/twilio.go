package transport

import (
	"encoding/base64"
	"sync"

	"github.com/room4-2/liverelay/audio"
	"github.com/room4-2/liverelay/messages"
)

// TwilioMediaStream speaks the carrier's media stream events. One instance per
// call: it remembers the streamSid announced by the "start" event.
type TwilioMediaStream struct {
	transcodeOutbound bool

	mu        sync.RWMutex
	streamSid string
}

// NewTwilioMediaStream creates an adapter. With transcodeOutbound set, agent
// audio is converted to 8 kHz mu-law before it is written to the carrier.
func NewTwilioMediaStream(transcodeOutbound bool) *TwilioMediaStream {
	return &TwilioMediaStream{transcodeOutbound: transcodeOutbound}
}

func (a *TwilioMediaStream) Kind() Kind { return KindTwilioStream }

func (a *TwilioMediaStream) AudioCapable() bool { return true }

// StreamSid returns the carrier stream id, empty before "start"
func (a *TwilioMediaStream) StreamSid() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.streamSid
}

// Decode returns telephony audio tagged with its native 8 kHz framing; the
// relay converts it before it reaches the agent.
func (a *TwilioMediaStream) Decode(frame []byte) (messages.Envelope, error) {
	var msg messages.TwilioInbound
	if err := unmarshal(frame, &msg); err != nil {
		return messages.Envelope{}, malformed("invalid json: %v", err)
	}

	switch msg.Event {
	case "":
		return messages.Envelope{}, malformed("missing event")

	case "start":
		sid := msg.StreamSid
		if msg.Start != nil && msg.Start.StreamSid != "" {
			sid = msg.Start.StreamSid
		}
		// a start without a sid is valid; outbound frames then omit it
		a.mu.Lock()
		a.streamSid = sid
		a.mu.Unlock()
		return messages.Envelope{}, nil

	case "media":
		if msg.Media == nil {
			return messages.Envelope{}, malformed("media event missing media")
		}
		muLaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return messages.Envelope{}, malformed("invalid base64 payload: %v", err)
		}
		return messages.NewAudio(audio.TelephonyFrame(muLaw)), nil

	case "stop":
		return messages.Envelope{}, ErrEndOfStream

	default:
		// connected, mark and anything newer carry nothing for the agent
		return messages.Envelope{}, nil
	}
}

func (a *TwilioMediaStream) Encode(env messages.Envelope) ([]byte, bool, error) {
	if env.IsEmpty() {
		return nil, false, nil
	}

	var out *messages.TwilioMessageBack
	switch env.Kind {
	case messages.KindAudio:
		payload := env.Audio.Samples
		if a.transcodeOutbound {
			muLaw, err := audio.EncodeTelephonyAudio(env.Audio)
			if err != nil {
				return nil, false, err
			}
			payload = muLaw
		}
		out = messages.NewTwilioMessageBack(a.StreamSid(), base64.StdEncoding.EncodeToString(payload))

	case messages.KindControl:
		if !env.Control.Interrupted {
			return nil, false, nil
		}
		out = messages.NewTwilioClear(a.StreamSid())

	default:
		return nil, false, nil
	}

	b, err := marshal(out)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// EncodeError reports false: the media stream has no error channel.
func (a *TwilioMediaStream) EncodeError(err error) ([]byte, bool) {
	return nil, false
}
