// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package vad classifies canonical audio frames as speech or silence.
// A Scorer produces a raw per-frame probability; the Detector layers
// smoothing, adaptive thresholding and edge debouncing on top.
package vad

// FrameSamples is the fixed scorer frame size: 512 samples of 16 kHz
// mono audio, i.e. 32 ms per frame.
const FrameSamples = 512

// FrameDurationMs is the wall-clock span of one frame.
const FrameDurationMs = FrameSamples * 1000 / 16000

// Scorer produces a speech probability for one frame. Implementations
// may carry hidden state across frames; they are owned by exactly one
// session and are not safe for concurrent use.
type Scorer interface {
	// Score returns the speech probability in [0, 1] for one frame of
	// exactly FrameSamples float32 samples.
	Score(frame []float32) (float32, error)

	// Reset clears any carried state (stream boundary).
	Reset()

	// Close releases scorer resources.
	Close() error
}
