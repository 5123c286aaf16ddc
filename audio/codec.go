package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/room4-2/liverelay/messages"
)

// Telephony and agent framing
const (
	TelephonySampleRate = 8000
	TelephonyBitDepth   = 8

	AgentSampleRate = 16000
	AgentBitDepth   = 16
	AgentChannels   = 1

	// DefaultAgentOutputRate is assumed when agent audio arrives without a rate parameter.
	DefaultAgentOutputRate = 24000
)

// ErrUnsupportedFormat is returned for frames that cannot be brought to the agent format
var ErrUnsupportedFormat = errors.New("unsupported audio format")

var muLawToPcmTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawToPcmTable[i] = decodeMuLawByte(byte(i))
	}
}

// TelephonyFrame tags a raw carrier payload with its native framing
func TelephonyFrame(payload []byte) messages.AudioFrame {
	return messages.AudioFrame{
		Samples:      payload,
		SampleRateHz: TelephonySampleRate,
		BitDepth:     TelephonyBitDepth,
		Channels:     1,
	}
}

// AgentFrame tags linear PCM already in the agent's input format
func AgentFrame(pcm []byte) messages.AudioFrame {
	return messages.AudioFrame{
		Samples:      pcm,
		SampleRateHz: AgentSampleRate,
		BitDepth:     AgentBitDepth,
		Channels:     AgentChannels,
	}
}

// IsAgentFormat reports whether the frame can be handed to the agent unchanged
func IsAgentFormat(f messages.AudioFrame) bool {
	return f.SampleRateHz == AgentSampleRate && f.BitDepth == AgentBitDepth && f.Channels == AgentChannels
}

// DecodeTelephonyAudio expands 8 kHz mu-law to 16 kHz 16-bit little-endian PCM.
// Each input byte yields two identical output samples, so the output is exactly
// four times the input length.
func DecodeTelephonyAudio(payload []byte) messages.AudioFrame {
	const ratio = AgentSampleRate / TelephonySampleRate
	const width = AgentBitDepth / 8

	pcmData := make([]byte, len(payload)*ratio*width)
	for i, b := range payload {
		v := uint16(muLawToPcmTable[b])
		base := i * ratio * width
		for r := 0; r < ratio; r++ {
			binary.LittleEndian.PutUint16(pcmData[base+r*width:], v)
		}
	}
	return AgentFrame(pcmData)
}

// EncodeTelephonyAudio decimates 16-bit mono PCM at any rate down to 8 kHz and
// compands it to mu-law.
func EncodeTelephonyAudio(f messages.AudioFrame) ([]byte, error) {
	if f.BitDepth != AgentBitDepth || f.Channels != 1 || f.SampleRateHz < TelephonySampleRate {
		return nil, fmt.Errorf("%w: %d Hz %d-bit %d ch", ErrUnsupportedFormat, f.SampleRateHz, f.BitDepth, f.Channels)
	}

	inCount := len(f.Samples) / 2
	outCount := inCount * TelephonySampleRate / f.SampleRateHz
	out := make([]byte, outCount)
	for i := 0; i < outCount; i++ {
		src := i * f.SampleRateHz / TelephonySampleRate
		sample := int16(binary.LittleEndian.Uint16(f.Samples[src*2:]))
		out[i] = PcmToMuLawByte(sample)
	}
	return out, nil
}

// ToAgentFormat converts a frame to the agent's input framing. Telephony frames
// are decoded; frames already in agent format pass through.
func ToAgentFormat(f messages.AudioFrame) (messages.AudioFrame, error) {
	switch {
	case IsAgentFormat(f):
		return f, nil
	case f.SampleRateHz == TelephonySampleRate && f.BitDepth == TelephonyBitDepth && f.Channels == 1:
		return DecodeTelephonyAudio(f.Samples), nil
	default:
		return messages.AudioFrame{}, fmt.Errorf("%w: %d Hz %d-bit %d ch", ErrUnsupportedFormat, f.SampleRateHz, f.BitDepth, f.Channels)
	}
}

// IsPCMMimeType reports whether an agent blob mime type names linear PCM audio
func IsPCMMimeType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), messages.MimeAudioPCM)
}

// SampleRateFromMime reads the rate parameter of "audio/pcm;rate=24000".
// DefaultAgentOutputRate is returned when the parameter is missing or invalid.
func SampleRateFromMime(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return DefaultAgentOutputRate
}

// decodeMuLawByte follows the Sun Microsystems G.711 reference implementation.
func decodeMuLawByte(uVal byte) int16 {
	// mu-law stores bits inverted
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// bias of 0x84 is the 33 segment offset shifted into position
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// PcmToMuLawByte compands one linear sample
func PcmToMuLawByte(pcm int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := (pcm >> 8) & 0x80

	// widen before negating so -32768 does not overflow
	mag := int32(pcm)
	if mag < 0 {
		mag = -mag
	}
	if mag > clip {
		mag = clip
	}
	mag += bias

	exponent := 7
	for mask := int32(0x4000); mag&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}

	mantissa := (mag >> (exponent + 3)) & 0x0F

	ulawByte := byte(int32(sign) | int32(exponent)<<4 | mantissa)
	return ^ulawByte
}
