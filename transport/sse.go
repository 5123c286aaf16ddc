package transport

import (
	"github.com/room4-2/liverelay/messages"
)

// ServerSentEvents is outbound-only: each envelope becomes one "data:" event
// carrying the browser JSON shape. Inbound traffic arrives on the sidecar POST,
// which Decode handles.
type ServerSentEvents struct{}

// NewServerSentEvents creates the event stream adapter
func NewServerSentEvents() *ServerSentEvents {
	return &ServerSentEvents{}
}

func (a *ServerSentEvents) Kind() Kind { return KindSSE }

func (a *ServerSentEvents) AudioCapable() bool { return true }

func (a *ServerSentEvents) Decode(frame []byte) (messages.Envelope, error) {
	return decodeClientFrame(frame)
}

func (a *ServerSentEvents) Encode(env messages.Envelope) ([]byte, bool, error) {
	v, ok := clientFrameFor(env)
	if !ok {
		return nil, false, nil
	}
	b, err := marshal(v)
	if err != nil {
		return nil, false, err
	}
	return sseEvent(b), true, nil
}

// EncodeError reports false: errors for SSE sessions are returned on the POST
// that caused them.
func (a *ServerSentEvents) EncodeError(err error) ([]byte, bool) {
	return nil, false
}

func sseEvent(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
