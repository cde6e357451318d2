// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package vad

import (
	"fmt"
	"math"
)

// EnergyScorer is the model-free fallback: frame RMS mapped through a
// soft knee onto [0, 1]. It tracks a slow noise-floor estimate so quiet
// rooms and loud rooms land on comparable scores.
type EnergyScorer struct {
	floor float64 // exponential noise-floor estimate
	seen  bool
}

// NewEnergyScorer returns an RMS-based scorer.
func NewEnergyScorer() *EnergyScorer {
	return &EnergyScorer{}
}

// Score implements Scorer.
func (e *EnergyScorer) Score(frame []float32) (float32, error) {
	if len(frame) != FrameSamples {
		return 0, fmt.Errorf("vad: frame must be %d samples, got %d", FrameSamples, len(frame))
	}

	var sumSq float64
	for _, s := range frame {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(frame)))

	if !e.seen {
		e.floor = rms
		e.seen = true
	} else if rms < e.floor {
		e.floor = 0.9*e.floor + 0.1*rms
	} else {
		e.floor = 0.999*e.floor + 0.001*rms
	}

	// Ratio above the noise floor, squashed to [0, 1). A frame 10x above
	// the floor scores ~0.9.
	ratio := rms / (e.floor + 1e-6)
	score := 1.0 - 1.0/(1.0+ratio/10.0*9.0)
	if score < 0 {
		score = 0
	}
	return float32(score), nil
}

// Reset implements Scorer.
func (e *EnergyScorer) Reset() {
	e.floor = 0
	e.seen = false
}

// Close implements Scorer.
func (e *EnergyScorer) Close() error { return nil }
