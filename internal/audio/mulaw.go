package audio

// G.711 μ-law expansion for the 8kHz telephony leg. Twilio media streams
// carry μ-law payloads; the STT provider wants linear PCM, so inbound audio
// is expanded before relay. Synthesis providers emit μ-law natively, so only
// the decode direction ships; the compander below exists to verify it.

const mulawBias = 0x84

// encodeMulaw compands 16-bit little-endian PCM into μ-law bytes.
func encodeMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		out[i/2] = mulawEncodeSample(s)
	}
	return out
}

// DecodeMulaw expands μ-law bytes into 16-bit little-endian PCM.
func DecodeMulaw(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := mulawDecodeSample(b)
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

func mulawEncodeSample(sample int16) byte {
	sign := byte(0)
	s := int(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > 32635 {
		s = 32635
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}

func mulawDecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	s := (int(mantissa)<<3 + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}
