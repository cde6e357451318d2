// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package wakeword detects configured wake phrases in canonical audio.
// Scorers turn samples into scores; the Detector applies the trailing
// score window, threshold and per-session cooldown.
package wakeword

// Scorer consumes canonical 16 kHz mono samples and yields zero or more
// wake scores per feed. Scorers buffer internally, so callers may feed
// chunks of any length. Owned by one session; not concurrency-safe.
type Scorer interface {
	// Feed appends samples and returns the scores produced by any
	// complete internal windows they closed.
	Feed(samples []float32) ([]float32, error)

	// Reset flushes buffered audio and internal model state.
	Reset()

	// Close releases scorer resources.
	Close() error
}
