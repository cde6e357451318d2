// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"sync"
	"time"

	"github.com/ManuGH/asrhub/internal/audio"
)

// accumulator collects canonical PCM for one session while it records or
// streams, so the transcription effect can take the whole utterance in
// one piece. Bounded: past the cap the oldest bytes are discarded, which
// keeps the newest (most relevant) tail of an over-long utterance.
type accumulator struct {
	mu      sync.Mutex
	buf     []byte
	maxSize int
	dropped uint64
}

func newAccumulator(maxBytes int) *accumulator {
	if maxBytes <= 0 {
		// ~5 minutes of canonical audio.
		maxBytes = audio.Canonical.SampleRate * 2 * 300
	}
	return &accumulator{maxSize: maxBytes}
}

func (a *accumulator) Append(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, pcm...)
	if over := len(a.buf) - a.maxSize; over > 0 {
		a.dropped += uint64(over)
		a.buf = append(a.buf[:0], a.buf[over:]...)
	}
}

// Take returns the accumulated audio and resets the buffer.
func (a *accumulator) Take() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.buf
	a.buf = nil
	return out
}

func (a *accumulator) Bytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Duration reports the audio length currently buffered, assuming the
// canonical format.
func (a *accumulator) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return audio.Canonical.Duration(len(a.buf))
}

func (a *accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = nil
}
