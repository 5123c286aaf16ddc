package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/room4-2/liverelay/messages"
)

func TestDecodeTelephonyAudio_LengthAndFraming(t *testing.T) {
	for _, n := range []int{0, 1, 160, 321} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i * 7)
		}

		frame := DecodeTelephonyAudio(payload)
		if len(frame.Samples) != 4*n {
			t.Errorf("n=%d: got %d bytes, want %d", n, len(frame.Samples), 4*n)
		}
		if !IsAgentFormat(frame) {
			t.Errorf("n=%d: frame not in agent format: %+v", n, frame)
		}
	}
}

func TestDecodeTelephonyAudio_Deterministic(t *testing.T) {
	payload := []byte{0x00, 0x7F, 0x80, 0xFF, 0x12, 0xCE}

	first := DecodeTelephonyAudio(payload)
	for i := 0; i < 5; i++ {
		again := DecodeTelephonyAudio(payload)
		if !bytes.Equal(first.Samples, again.Samples) {
			t.Fatalf("call %d produced different output", i)
		}
	}
}

func TestDecodeTelephonyAudio_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		in   byte
		want int16
	}{
		{name: "positive zero", in: 0xFF, want: 0},
		{name: "negative zero", in: 0x7F, want: 0},
		{name: "most negative", in: 0x00, want: -32124},
		{name: "most positive", in: 0x80, want: 32124},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DecodeTelephonyAudio([]byte{tt.in}).Samples
			first := int16(binary.LittleEndian.Uint16(out[0:2]))
			second := int16(binary.LittleEndian.Uint16(out[2:4]))
			if first != tt.want || second != tt.want {
				t.Errorf("got %d,%d want %d twice", first, second, tt.want)
			}
		})
	}
}

func TestMuLawRoundTripWithinQuantization(t *testing.T) {
	for _, x := range []int16{0, 5, -5, 100, -100, 1000, -1000, 12000, -12000, 30000, -32768, 32767} {
		got := decodeMuLawByte(PcmToMuLawByte(x))
		tolerance := int32(x) / 16
		if tolerance < 0 {
			tolerance = -tolerance
		}
		if tolerance < 8 {
			tolerance = 8
		}
		diff := int32(got) - int32(x)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Errorf("x=%d: round trip gave %d (diff %d > %d)", x, got, diff, tolerance)
		}
	}
}

func TestEncodeTelephonyAudio_Decimates(t *testing.T) {
	tests := []struct {
		rate    int
		samples int
		want    int
	}{
		{rate: 24000, samples: 480, want: 160},
		{rate: 16000, samples: 320, want: 160},
		{rate: 8000, samples: 160, want: 160},
	}

	for _, tt := range tests {
		pcm := make([]byte, tt.samples*2)
		out, err := EncodeTelephonyAudio(messages.AudioFrame{Samples: pcm, SampleRateHz: tt.rate, BitDepth: 16, Channels: 1})
		if err != nil {
			t.Fatalf("rate %d: %v", tt.rate, err)
		}
		if len(out) != tt.want {
			t.Errorf("rate %d: got %d bytes, want %d", tt.rate, len(out), tt.want)
		}
		for i, b := range out {
			if b != 0xFF {
				t.Fatalf("rate %d: silence byte %d encoded as %#x", tt.rate, i, b)
			}
		}
	}
}

func TestToAgentFormat(t *testing.T) {
	native := AgentFrame([]byte{1, 2, 3, 4})
	got, err := ToAgentFormat(native)
	if err != nil || !bytes.Equal(got.Samples, native.Samples) {
		t.Fatalf("native frame changed: %+v, %v", got, err)
	}

	converted, err := ToAgentFormat(TelephonyFrame([]byte{0xFF, 0xFF}))
	if err != nil {
		t.Fatalf("telephony frame: %v", err)
	}
	if len(converted.Samples) != 8 || !IsAgentFormat(converted) {
		t.Fatalf("unexpected conversion: %+v", converted)
	}

	_, err = ToAgentFormat(messages.AudioFrame{Samples: []byte{0}, SampleRateHz: 44100, BitDepth: 16, Channels: 2})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSampleRateFromMime(t *testing.T) {
	tests := map[string]int{
		"audio/pcm;rate=24000":  24000,
		"audio/pcm; rate=16000": 16000,
		"audio/pcm":             DefaultAgentOutputRate,
		"audio/pcm;rate=abc":    DefaultAgentOutputRate,
	}
	for mime, want := range tests {
		if got := SampleRateFromMime(mime); got != want {
			t.Errorf("%q: got %d, want %d", mime, got, want)
		}
	}

	if !IsPCMMimeType("audio/pcm;rate=24000") || IsPCMMimeType("audio/mp3") {
		t.Error("IsPCMMimeType misclassified")
	}
}
