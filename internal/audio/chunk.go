// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Chunk is an immutable unit of ingress audio: raw bytes plus the format
// they were declared in, a per-session monotonic sequence number and the
// arrival timestamp. Data must not be mutated after construction.
type Chunk struct {
	Data       []byte
	Format     Format
	Seq        uint64
	ReceivedAt time.Time
}

// Samples decodes the chunk into interleaved float32 samples in [-1, 1].
func (c Chunk) Samples() ([]float32, error) {
	return decodeSamples(c.Data, c.Format.Encoding)
}

// Int16Samples decodes the chunk into interleaved int16 samples. The chunk
// must already be 16-bit signed PCM.
func (c Chunk) Int16Samples() []int16 {
	n := len(c.Data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(c.Data[i*2 : i*2+2]))
	}
	return out
}

func decodeSamples(data []byte, enc Encoding) ([]float32, error) {
	bps := enc.BytesPerSample()
	if bps == 0 {
		return nil, ErrUnsupportedFormat
	}
	n := len(data) / bps
	out := make([]float32, n)
	switch enc {
	case EncodingS8:
		for i := 0; i < n; i++ {
			out[i] = float32(int8(data[i])) / 128.0
		}
	case EncodingS16LE:
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			out[i] = float32(v) / 32768.0
		}
	case EncodingS24LE:
		for i := 0; i < n; i++ {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF) // sign-extend
			}
			out[i] = float32(v) / 8388608.0
		}
	case EncodingS32LE:
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
			out[i] = float32(float64(v) / 2147483648.0)
		}
	case EncodingF32LE:
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
			out[i] = math.Float32frombits(bits)
		}
	default:
		return nil, ErrUnsupportedFormat
	}
	return out, nil
}

func encodeSamples(samples []float32, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingS8:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = byte(int8(clampScaled(s, 127, -128, 127)))
		}
		return out, nil
	case EncodingS16LE:
		out := make([]byte, len(samples)*2)
		for i, s := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(clampInt16(s)))
		}
		return out, nil
	case EncodingS24LE:
		out := make([]byte, len(samples)*3)
		for i, s := range samples {
			v := clampScaled(s, 8388607, -8388608, 8388607)
			out[i*3] = byte(v)
			out[i*3+1] = byte(v >> 8)
			out[i*3+2] = byte(v >> 16)
		}
		return out, nil
	case EncodingS32LE:
		out := make([]byte, len(samples)*4)
		for i, s := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(clampScaled(s, 2147483647, -2147483648, 2147483647))))
		}
		return out, nil
	case EncodingF32LE:
		out := make([]byte, len(samples)*4)
		for i, s := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
		}
		return out, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func clampInt16(s float32) int16 {
	return int16(clampScaled(s, 32767, -32768, 32767))
}

func clampScaled(s float32, scale float64, lo, hi int64) int64 {
	v := float64(s) * scale
	if v > float64(hi) {
		return hi
	}
	if v < float64(lo) {
		return lo
	}
	return int64(math.Round(v))
}
