// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package wakeword

import (
	"time"
)

// scoreWindowSize is the trailing score history kept per model,
// roughly 60 scoring steps of context.
const scoreWindowSize = 60

// DetectorConfig tunes one per-session detector.
type DetectorConfig struct {
	// Threshold fires a detection when an instantaneous score meets it.
	Threshold float32 `yaml:"threshold"`
	// Cooldown is the minimum gap between fires on the same session.
	Cooldown time.Duration `yaml:"cooldown"`
}

func (c *DetectorConfig) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 1500 * time.Millisecond
	}
}

// Detection is one wake-word fire.
type Detection struct {
	Model string
	Score float32
	At    time.Time
}

type modelState struct {
	name   string
	scorer Scorer

	window [scoreWindowSize]float32
	widx   int

	failed bool
}

// Detector evaluates one or more wake models over a shared audio feed.
// The cooldown spans all models: after any fire, the session stays quiet
// for the configured period. One detector per session.
type Detector struct {
	cfg    DetectorConfig
	models []*modelState

	lastFire time.Time
	now      func() time.Time
}

// NewDetector builds a detector over named scorers.
func NewDetector(cfg DetectorConfig, scorers map[string]Scorer) *Detector {
	cfg.defaults()
	d := &Detector{cfg: cfg, now: time.Now}
	for name, sc := range scorers {
		d.models = append(d.models, &modelState{name: name, scorer: sc})
	}
	return d
}

// Feed runs all models over the samples and returns any detections.
// A scorer error disables that model for the life of the detector; the
// remaining models keep running.
func (d *Detector) Feed(samples []float32) ([]Detection, error) {
	var (
		detections []Detection
		firstErr   error
	)
	for _, m := range d.models {
		if m.failed {
			continue
		}
		scores, err := m.scorer.Feed(samples)
		if err != nil {
			m.failed = true
			if firstErr == nil {
				firstErr = err
			}
		}
		for _, score := range scores {
			m.window[m.widx%scoreWindowSize] = score
			m.widx++

			now := d.now()
			if score >= d.cfg.Threshold && now.Sub(d.lastFire) >= d.cfg.Cooldown {
				d.lastFire = now
				// Clear the window so the same peak cannot re-fire
				// after the cooldown lapses.
				m.window = [scoreWindowSize]float32{}
				detections = append(detections, Detection{Model: m.name, Score: score, At: now})
			}
		}
	}
	return detections, firstErr
}

// PeakScore returns the highest score in the named model's trailing
// window, for diagnostics.
func (d *Detector) PeakScore(model string) float32 {
	for _, m := range d.models {
		if m.name != model {
			continue
		}
		var peak float32
		for _, s := range m.window {
			if s > peak {
				peak = s
			}
		}
		return peak
	}
	return 0
}

// ResetCooldown clears the fire gate, e.g. on session reset.
func (d *Detector) ResetCooldown() {
	d.lastFire = time.Time{}
}

// Reset flushes all model state and the cooldown.
func (d *Detector) Reset() {
	for _, m := range d.models {
		m.scorer.Reset()
		m.window = [scoreWindowSize]float32{}
		m.widx = 0
	}
	d.ResetCooldown()
}

// Close releases all scorers.
func (d *Detector) Close() error {
	var firstErr error
	for _, m := range d.models {
		if err := m.scorer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
