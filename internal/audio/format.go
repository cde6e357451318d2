// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package audio defines the wire-level audio value types shared by the
// pipeline: formats, immutable chunks, format conversion and the bounded
// per-session ingress queue.
package audio

import (
	"fmt"
	"time"
)

// Encoding identifies the sample encoding of raw audio bytes.
type Encoding string

const (
	EncodingS8    Encoding = "pcm_s8"
	EncodingS16LE Encoding = "pcm_s16le"
	EncodingS24LE Encoding = "pcm_s24le"
	EncodingS32LE Encoding = "pcm_s32le"
	EncodingF32LE Encoding = "pcm_f32le"
)

// Format describes the layout of raw PCM audio.
type Format struct {
	SampleRate int      `json:"sampleRate" yaml:"sampleRate"`
	Channels   int      `json:"channels" yaml:"channels"`
	Encoding   Encoding `json:"encoding" yaml:"encoding"`
}

// Canonical is the internal format every downstream operator assumes:
// 16 kHz, mono, 16-bit signed PCM, little-endian.
var Canonical = Format{SampleRate: 16000, Channels: 1, Encoding: EncodingS16LE}

// BytesPerSample returns the width of one sample in bytes, or 0 for an
// unknown encoding.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingS8:
		return 1
	case EncodingS16LE:
		return 2
	case EncodingS24LE:
		return 3
	case EncodingS32LE, EncodingF32LE:
		return 4
	default:
		return 0
	}
}

// Validate reports whether the format is inside the supported matrix.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	if f.Encoding.BytesPerSample() == 0 {
		return fmt.Errorf("%w: encoding %q", ErrUnsupportedFormat, f.Encoding)
	}
	return nil
}

// FrameBytes returns the byte width of one multi-channel frame.
func (f Format) FrameBytes() int {
	return f.Encoding.BytesPerSample() * f.Channels
}

// Duration converts a byte count in this format to wall-clock audio time.
func (f Format) Duration(bytes int) time.Duration {
	fb := f.FrameBytes()
	if fb == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := bytes / fb
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}
