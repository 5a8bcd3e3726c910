// Package audio decodes the G.711 payloads carried by telephony media streams.
package audio

var ulawTable [256]int16

func init() {
	for i := range 256 {
		ulawTable[i] = decodeUlawSample(byte(i))
	}
}

func decodeUlawSample(b byte) int16 {
	b = ^b
	sign := int16(1)
	if b&0x80 != 0 {
		sign = -1
		b &= 0x7F
	}
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	sample := (mantissa<<3 + 0x84) << exponent
	sample -= 0x84
	return sign * sample
}

// DecodeUlaw converts G.711 μ-law bytes to 16-bit little-endian mono PCM,
// the format the streaming transcription service consumes.
func DecodeUlaw(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i, b := range data {
		s := ulawTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
