// Package transport normalizes the wire protocols clients speak into
// messages.Envelope values and back.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/room4-2/liverelay/messages"
)

// Kind names a client transport
type Kind string

const (
	KindWebSocket    Kind = "websocket"
	KindSSE          Kind = "sse"
	KindTwilioStream Kind = "twilio"
)

var (
	// ErrMalformedFrame marks a single undecodable frame; the session continues.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnsupportedMimeType is session-fatal.
	ErrUnsupportedMimeType = errors.New("unsupported mime type")
	// ErrEndOfStream is returned when the client announced the end of its stream.
	ErrEndOfStream = errors.New("end of stream")
	// ErrDisconnected is returned once the remote side has gone away.
	ErrDisconnected = errors.New("transport disconnected")
)

// UnsupportedMimeTypeError names the offending mime type
type UnsupportedMimeTypeError struct {
	MimeType string
}

func (e *UnsupportedMimeTypeError) Error() string {
	return messages.UnsupportedMimeTypeMessage(e.MimeType)
}

func (e *UnsupportedMimeTypeError) Unwrap() error {
	return ErrUnsupportedMimeType
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Adapter converts between one client wire format and envelopes.
type Adapter interface {
	Kind() Kind

	// Decode turns one inbound wire frame into an envelope. An empty envelope
	// with a nil error means the frame carried nothing to forward.
	Decode(frame []byte) (messages.Envelope, error)

	// Encode renders an envelope for the client. ok is false when the envelope
	// produces no frame on this transport.
	Encode(env messages.Envelope) (frame []byte, ok bool, err error)

	// EncodeError renders a user-visible error, if the transport has a way to
	// report one.
	EncodeError(err error) (frame []byte, ok bool)

	// AudioCapable reports whether audio mode sessions may use this transport.
	AudioCapable() bool
}

// Conn is a client connection as seen by the relay. ReadFrame blocks until a
// frame arrives, the connection goes away (ErrDisconnected) or ctx ends.
// WriteFrame calls are serialized and Close waits for an in-flight write.
type Conn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}

func marshal(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

// ErrorMessage is the text reported to a client for err
func ErrorMessage(err error) string {
	var mimeErr *UnsupportedMimeTypeError
	if errors.As(err, &mimeErr) {
		return mimeErr.Error()
	}
	return err.Error()
}

// MarshalJSON renders v with the same codec the adapters use
func MarshalJSON(v any) ([]byte, error) {
	return marshal(v)
}
