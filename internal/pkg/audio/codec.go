// Package audio decodes G.711 payloads to linear PCM, reads and writes the
// mono 16-bit WAV files the recorder produces, and names them.
package audio

import (
	"fmt"
	"math"
)

// Codec is a G.711 variant identified by its static RTP payload type
type Codec uint8

const (
	PCMU Codec = 0
	PCMA Codec = 8
)

// Gain is applied to every decoded sample
const Gain = 2.0

func (c Codec) String() string {
	switch c {
	case PCMU:
		return "PCMU"
	case PCMA:
		return "PCMA"
	default:
		return fmt.Sprintf("PT%d", uint8(c))
	}
}

// CodecForPayloadType maps an RTP payload type to a supported codec
func CodecForPayloadType(pt uint8) (Codec, bool) {
	switch pt {
	case 0:
		return PCMU, true
	case 8:
		return PCMA, true
	default:
		return 0, false
	}
}

// Decode converts a G.711 payload to linear samples multiplied by Gain,
// saturating at the int16 range.
func Decode(codec Codec, payload []byte) ([]int, error) {
	var decode func(byte) int16
	switch codec {
	case PCMU:
		decode = UlawToLinear
	case PCMA:
		decode = AlawToLinear
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}

	out := make([]int, len(payload))
	for i, b := range payload {
		out[i] = int(Amplify(decode(b), Gain))
	}
	return out, nil
}

// Amplify scales a sample with saturation
func Amplify(sample int16, gain float64) int16 {
	v := math.Round(float64(sample) * gain)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// UlawToLinear decodes one μ-law byte (ITU-T G.711)
func UlawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(0x84 - t)
	}
	return int16(t - 0x84)
}

// AlawToLinear decodes one A-law byte (ITU-T G.711)
func AlawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}
