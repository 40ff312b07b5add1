package audio

import "fmt"

// Encoding identifies the byte layout of an audio stream.
type Encoding string

const (
	// EncodingLinear16 is 16-bit little-endian PCM.
	EncodingLinear16 Encoding = "linear16"
	// EncodingMulaw is 8-bit G.711 μ-law, the narrowband telephony encoding.
	EncodingMulaw Encoding = "mulaw"
)

// Format describes sample rate and encoding of a mono audio stream.
type Format struct {
	SampleRate int
	Encoding   Encoding
}

// Common formats for the two transport legs.
var (
	// Telephony8k is the Twilio media stream leg: 8kHz companded μ-law.
	Telephony8k = Format{SampleRate: 8000, Encoding: EncodingMulaw}
	// Wideband16k is the STT-side PCM format for narrowband legs.
	Wideband16k = Format{SampleRate: 16000, Encoding: EncodingLinear16}
	// Room48k is the WebRTC room leg working format.
	Room48k = Format{SampleRate: 48000, Encoding: EncodingLinear16}
)

// BytesPerSample returns the per-sample byte width for the encoding.
func (f Format) BytesPerSample() int {
	if f.Encoding == EncodingMulaw {
		return 1
	}
	return 2
}

// FrameBytes returns the byte length of one 20ms frame, the chunk size both
// transports expect on their outbound audio path.
func (f Format) FrameBytes() int {
	return f.SampleRate / 50 * f.BytesPerSample()
}

func (f Format) String() string {
	return fmt.Sprintf("%s@%d", f.Encoding, f.SampleRate)
}
