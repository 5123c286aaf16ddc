package messages

import "fmt"

// Twilio outbound event names
const (
	TwilioEventMedia = "media"
	TwilioEventClear = "clear"
)

// ControlFrame signals an agent turn boundary to browser clients
type ControlFrame struct {
	TurnComplete bool `json:"turn_complete"`
	Interrupted  bool `json:"interrupted"`
}

// TwilioMessageBack is a frame written back to the carrier's media stream
type TwilioMessageBack struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Media     *TwilioMedia `json:"media,omitempty"`
}

// ErrorPayload is the user-visible error shape
type ErrorPayload struct {
	Error string `json:"error"`
}

// StatusPayload acknowledges a sidecar submission
type StatusPayload struct {
	Status string `json:"status"`
}

func NewTwilioMessageBack(streamSid string, data string) *TwilioMessageBack {
	return &TwilioMessageBack{
		Event:     TwilioEventMedia,
		StreamSid: streamSid,
		Media:     &TwilioMedia{Payload: data},
	}
}

// NewTwilioClear asks the carrier to drop any audio it has buffered
func NewTwilioClear(streamSid string) *TwilioMessageBack {
	return &TwilioMessageBack{Event: TwilioEventClear, StreamSid: streamSid}
}

// NewErrorMessage creates an error payload
func NewErrorMessage(message string) *ErrorPayload {
	return &ErrorPayload{Error: message}
}

// UnsupportedMimeTypeMessage is the error text reported for an unknown mime type
func UnsupportedMimeTypeMessage(mimeType string) string {
	return fmt.Sprintf("Mime type not supported: %s", mimeType)
}

// SessionNotFoundMessage is reported when a sidecar POST names an unknown session
const SessionNotFoundMessage = "Session not found"
