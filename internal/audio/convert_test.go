// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func s16Bytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func f32Bytes(samples ...float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestConvertIdentityShortCircuits(t *testing.T) {
	c := NewConverter(QualityLow)
	in := Chunk{Data: s16Bytes(1, 2, 3), Format: Canonical, Seq: 7}

	out, err := c.Convert(in, Canonical)
	require.NoError(t, err)
	require.Equal(t, in, out)
	// No copy is made on the identity path.
	require.Same(t, &in.Data[0], &out.Data[0])
}

func TestConvertDownmixesStereoToMono(t *testing.T) {
	c := NewConverter(QualityLow)
	stereo := Format{SampleRate: 16000, Channels: 2, Encoding: EncodingS16LE}
	// Interleaved L/R frames: (1000,3000) and (-2000,-4000).
	in := Chunk{Data: s16Bytes(1000, 3000, -2000, -4000), Format: stereo, Seq: 1}

	out, err := c.Convert(in, Canonical)
	require.NoError(t, err)
	require.Equal(t, Canonical, out.Format)
	require.Equal(t, uint64(1), out.Seq)

	got := out.Int16Samples()
	require.Len(t, got, 2)
	require.InDelta(t, 2000, got[0], 1)
	require.InDelta(t, -3000, got[1], 1)
}

func TestConvertRejectsUpmix(t *testing.T) {
	c := NewConverter(QualityLow)
	stereo := Format{SampleRate: 16000, Channels: 2, Encoding: EncodingS16LE}
	in := Chunk{Data: s16Bytes(1, 2), Format: Canonical}

	_, err := c.Convert(in, stereo)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestConvertRejectsUnknownSourceEncoding(t *testing.T) {
	c := NewConverter(QualityLow)
	in := Chunk{Data: []byte{1, 2, 3}, Format: Format{SampleRate: 16000, Channels: 1, Encoding: "opus"}}

	_, err := c.Convert(in, Canonical)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestConvertLinearDownsampleHalvesRate(t *testing.T) {
	c := NewConverter(QualityLow)
	src := Format{SampleRate: 32000, Channels: 1, Encoding: EncodingS16LE}

	samples := make([]int16, 640)
	for i := range samples {
		samples[i] = 8000
	}
	in := Chunk{Data: s16Bytes(samples...), Format: src}

	out, err := c.Convert(in, Canonical)
	require.NoError(t, err)
	got := out.Int16Samples()
	require.Len(t, got, 320)
	// A constant signal survives linear interpolation unchanged.
	require.InDelta(t, 8000, got[160], 1)
}

func TestConvertFloatToCanonical(t *testing.T) {
	c := NewConverter(QualityLow)
	src := Format{SampleRate: 16000, Channels: 1, Encoding: EncodingF32LE}
	in := Chunk{Data: f32Bytes(0.5, -0.5, 0), Format: src}

	out, err := c.Convert(in, Canonical)
	require.NoError(t, err)
	got := out.Int16Samples()
	require.Len(t, got, 3)
	require.InDelta(t, 16384, got[0], 1)
	require.InDelta(t, -16384, got[1], 1)
	require.Zero(t, got[2])
}

func TestConvertToIntegerWidths(t *testing.T) {
	c := NewConverter(QualityLow)
	src := Format{SampleRate: 16000, Channels: 1, Encoding: EncodingF32LE}
	in := Chunk{Data: f32Bytes(0.5, -0.25, 0), Format: src}

	for _, enc := range []Encoding{EncodingS8, EncodingS16LE, EncodingS24LE, EncodingS32LE} {
		t.Run(string(enc), func(t *testing.T) {
			out, err := c.Convert(in, Format{SampleRate: 16000, Channels: 1, Encoding: enc})
			require.NoError(t, err)
			require.Len(t, out.Data, 3*enc.BytesPerSample())

			got, err := out.Samples()
			require.NoError(t, err)
			require.InDelta(t, 0.5, got[0], 0.01)
			require.InDelta(t, -0.25, got[1], 0.01)
			require.InDelta(t, 0, got[2], 0.01)
		})
	}
}

func TestConvertClampsOutOfRangeFloats(t *testing.T) {
	c := NewConverter(QualityLow)
	src := Format{SampleRate: 16000, Channels: 1, Encoding: EncodingF32LE}
	in := Chunk{Data: f32Bytes(1.5, -1.5), Format: src}

	out, err := c.Convert(in, Canonical)
	require.NoError(t, err)
	got := out.Int16Samples()
	require.Equal(t, int16(32767), got[0])
	require.Equal(t, int16(-32768), got[1])
}

func TestPolyphaseResamplePreservesTone(t *testing.T) {
	// A 440 Hz sine downsampled 48k -> 16k must keep its amplitude; the
	// polyphase filter should not ring on a tone this far below cutoff.
	r := newPolyphaseResampler(48000, 16000)
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}

	out := r.resample(in)
	require.Len(t, out, 1600)

	var peak float64
	for _, v := range out[100 : len(out)-100] {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
		}
	}
	require.InDelta(t, 0.5, peak, 0.05)
}
