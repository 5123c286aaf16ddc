package messages

// Kind identifies which variant of an Envelope is active.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindAudio
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	case KindControl:
		return "control"
	default:
		return "none"
	}
}

// AudioFrame is a chunk of linear or companded audio with its framing parameters.
type AudioFrame struct {
	Samples      []byte
	SampleRateHz int
	BitDepth     int
	Channels     int
}

// Control carries agent turn boundaries.
type Control struct {
	TurnComplete bool
	Interrupted  bool
}

// Envelope is the normalized in-process message exchanged between transports and
// the agent. Exactly one of Text, Audio or Control is meaningful, selected by Kind.
type Envelope struct {
	Kind    Kind
	Text    string
	Audio   AudioFrame
	Control Control
}

// NewText creates a text envelope
func NewText(content string) Envelope {
	return Envelope{Kind: KindText, Text: content}
}

// NewAudio creates an audio envelope
func NewAudio(frame AudioFrame) Envelope {
	return Envelope{Kind: KindAudio, Audio: frame}
}

// NewControl creates a turn-boundary envelope
func NewControl(turnComplete, interrupted bool) Envelope {
	return Envelope{Kind: KindControl, Control: Control{TurnComplete: turnComplete, Interrupted: interrupted}}
}

// IsEmpty reports whether the envelope carries nothing worth emitting.
func (e Envelope) IsEmpty() bool {
	switch e.Kind {
	case KindText:
		return e.Text == ""
	case KindAudio:
		return len(e.Audio.Samples) == 0
	case KindControl:
		return !e.Control.TurnComplete && !e.Control.Interrupted
	default:
		return true
	}
}
