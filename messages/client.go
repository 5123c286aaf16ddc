package messages

// Mime types accepted on the browser wire format
const (
	MimeTextPlain = "text/plain"
	MimeAudioPCM  = "audio/pcm"
)

// ClientFrame is the browser wire frame, used in both directions on the WebSocket
// endpoint and as the body of the sidecar POST.
type ClientFrame struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // plain text, or base64 PCM for audio/pcm
}

// TwilioMedia holds a base64 audio payload on a media stream
type TwilioMedia struct {
	Payload string `json:"payload"`
}

// TwilioStart is the metadata block of a media stream "start" event
type TwilioStart struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid,omitempty"`
}

// TwilioInbound is an event sent by the carrier on the media stream:
// connected, start, media, mark, stop.
type TwilioInbound struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Start     *TwilioStart `json:"start,omitempty"`
	Media     *TwilioMedia `json:"media,omitempty"`
}
