// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/asrhub/internal/metrics"
)

// ErrUnsupportedFormat marks a format outside the declared conversion matrix.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Quality selects the resampling algorithm. Purely a CPU/fidelity trade-off;
// it never changes the conversion contract.
type Quality string

const (
	QualityLow    Quality = "low"    // linear interpolation
	QualityMedium Quality = "medium" // FFT spectral resampling
	QualityHigh   Quality = "high"   // windowed-sinc polyphase (default)
)

type planKey struct {
	srcRate  int
	dstRate  int
	channels int
	encoding Encoding
}

type plan struct {
	identity  bool
	resampler resampler
}

// Converter turns chunks into a target format. Conversion itself is a pure
// function of (chunk, target); the converter only caches resampler state
// keyed by (source rate, target rate, channels, encoding).
type Converter struct {
	quality Quality

	mu    sync.Mutex
	plans map[planKey]*plan
}

// NewConverter returns a converter using the given quality tier.
// An empty quality selects the polyphase default.
func NewConverter(quality Quality) *Converter {
	if quality == "" {
		quality = QualityHigh
	}
	return &Converter{quality: quality, plans: make(map[planKey]*plan)}
}

// Convert produces a new chunk in the target format. Identical source and
// target formats short-circuit and return the input chunk unchanged.
func (c *Converter) Convert(chunk Chunk, target Format) (Chunk, error) {
	if chunk.Format == target {
		return chunk, nil
	}
	if err := chunk.Format.Validate(); err != nil {
		return Chunk{}, err
	}
	if err := target.Validate(); err != nil {
		return Chunk{}, err
	}
	if target.Channels > chunk.Format.Channels {
		return Chunk{}, fmt.Errorf("%w: cannot upmix %d -> %d channels",
			ErrUnsupportedFormat, chunk.Format.Channels, target.Channels)
	}

	start := time.Now()
	defer func() { metrics.ConversionSeconds.Observe(time.Since(start).Seconds()) }()

	samples, err := chunk.Samples()
	if err != nil {
		return Chunk{}, err
	}

	if chunk.Format.Channels == 2 && target.Channels == 1 {
		samples = downmixStereo(samples)
	}

	if chunk.Format.SampleRate != target.SampleRate {
		p := c.planFor(chunk.Format, target)
		samples = p.resampler.resample(samples)
	}

	data, err := encodeSamples(samples, target.Encoding)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{Data: data, Format: target, Seq: chunk.Seq, ReceivedAt: chunk.ReceivedAt}, nil
}

func (c *Converter) planFor(src, dst Format) *plan {
	key := planKey{srcRate: src.SampleRate, dstRate: dst.SampleRate, channels: src.Channels, encoding: src.Encoding}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.plans[key]; ok {
		return p
	}
	p := &plan{identity: src.SampleRate == dst.SampleRate}
	switch c.quality {
	case QualityLow:
		p.resampler = newLinearResampler(src.SampleRate, dst.SampleRate)
	case QualityMedium:
		p.resampler = newFFTResampler(src.SampleRate, dst.SampleRate)
	default:
		p.resampler = newPolyphaseResampler(src.SampleRate, dst.SampleRate)
	}
	c.plans[key] = p
	return p
}

// downmixStereo averages interleaved stereo frames into mono.
func downmixStereo(in []float32) []float32 {
	out := make([]float32, len(in)/2)
	for i := range out {
		out[i] = (in[i*2] + in[i*2+1]) / 2
	}
	return out
}
