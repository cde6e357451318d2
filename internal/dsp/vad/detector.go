// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package vad

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Edge marks a debounced speech-boundary transition.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeSpeechStart
	EdgeSpeechEnd
)

// DetectorConfig tunes one per-session detector.
type DetectorConfig struct {
	// Threshold is the fixed decision threshold when adaptation is off,
	// and the starting point when it is on.
	Threshold float32 `yaml:"threshold"`
	// AdaptiveThreshold recomputes the threshold as mean + K·σ over the
	// trailing score window, clamped to [0.3, 0.8].
	AdaptiveThreshold bool    `yaml:"adaptiveThreshold"`
	AdaptiveK         float64 `yaml:"adaptiveK"`
	// SmoothingWindow is the number of recent raw scores averaged (with
	// recency weighting) before the threshold comparison.
	SmoothingWindow int `yaml:"smoothingWindow"`
	// MinSilenceDuration is how long the smoothed score must stay below
	// the threshold before a speech segment is considered ended.
	MinSilenceDuration time.Duration `yaml:"minSilenceDuration"`
}

func (c *DetectorConfig) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.AdaptiveK <= 0 {
		c.AdaptiveK = 1.5
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = 5
	}
	if c.MinSilenceDuration <= 0 {
		c.MinSilenceDuration = 700 * time.Millisecond
	}
}

const (
	adaptiveWindow = 100 // trailing raw scores feeding the adaptive threshold
	adaptiveFloor  = 0.3
	adaptiveCeil   = 0.8
)

// Result is the per-frame detector output.
type Result struct {
	Probability float32 // raw scorer output
	Smoothed    float32 // recency-weighted mean over the smoothing window
	Threshold   float32 // effective threshold used for this frame
	IsSpeech    bool
	Edge        Edge
}

// Stats accumulates per-session detection statistics.
type Stats struct {
	SpeechFrames  int
	SilenceFrames int
	Segments      int
	AvgConfidence float32 // mean raw probability over speech frames
}

// Detector turns raw scorer probabilities into debounced speech edges.
// One detector per session; not safe for concurrent use.
type Detector struct {
	cfg    DetectorConfig
	scorer Scorer

	smooth    []float32 // ring of recent raw scores, len SmoothingWindow
	smoothIdx int
	smoothN   int

	trailing []float64 // ring feeding the adaptive threshold
	trailIdx int
	trailN   int

	inSpeech      bool
	silenceFrames int

	stats    Stats
	probSum  float64
	probSeen int
}

// NewDetector wraps a scorer with smoothing, adaptation and debouncing.
func NewDetector(cfg DetectorConfig, scorer Scorer) *Detector {
	cfg.defaults()
	return &Detector{
		cfg:      cfg,
		scorer:   scorer,
		smooth:   make([]float32, cfg.SmoothingWindow),
		trailing: make([]float64, adaptiveWindow),
	}
}

// Process scores one frame and updates detection state.
func (d *Detector) Process(frame []float32) (Result, error) {
	prob, err := d.scorer.Score(frame)
	if err != nil {
		return Result{}, err
	}

	d.smooth[d.smoothIdx] = prob
	d.smoothIdx = (d.smoothIdx + 1) % len(d.smooth)
	if d.smoothN < len(d.smooth) {
		d.smoothN++
	}

	d.trailing[d.trailIdx] = float64(prob)
	d.trailIdx = (d.trailIdx + 1) % len(d.trailing)
	if d.trailN < len(d.trailing) {
		d.trailN++
	}

	smoothed := d.weightedMean()
	threshold := d.effectiveThreshold()

	res := Result{
		Probability: prob,
		Smoothed:    smoothed,
		Threshold:   threshold,
		IsSpeech:    d.inSpeech,
	}

	above := smoothed >= threshold
	switch {
	case !d.inSpeech && above:
		d.inSpeech = true
		d.silenceFrames = 0
		d.stats.Segments++
		res.IsSpeech = true
		res.Edge = EdgeSpeechStart

	case d.inSpeech && !above:
		d.silenceFrames++
		if time.Duration(d.silenceFrames)*FrameDurationMs*time.Millisecond >= d.cfg.MinSilenceDuration {
			d.inSpeech = false
			d.silenceFrames = 0
			res.IsSpeech = false
			res.Edge = EdgeSpeechEnd
		}

	case d.inSpeech && above:
		// A single above-threshold frame cancels a pending exit.
		d.silenceFrames = 0
	}

	if d.inSpeech || res.Edge == EdgeSpeechEnd {
		d.stats.SpeechFrames++
		d.probSum += float64(prob)
		d.probSeen++
	} else {
		d.stats.SilenceFrames++
	}

	return res, nil
}

// weightedMean averages the smoothing window with linearly increasing
// weight toward the most recent score.
func (d *Detector) weightedMean() float32 {
	if d.smoothN == 0 {
		return 0
	}
	var sum, wsum float64
	for i := 0; i < d.smoothN; i++ {
		// Oldest first: weight 1..n.
		idx := (d.smoothIdx - d.smoothN + i + len(d.smooth)*2) % len(d.smooth)
		w := float64(i + 1)
		sum += w * float64(d.smooth[idx])
		wsum += w
	}
	return float32(sum / wsum)
}

func (d *Detector) effectiveThreshold() float32 {
	if !d.cfg.AdaptiveThreshold || d.trailN < len(d.trailing)/2 {
		return d.cfg.Threshold
	}
	mean, std := stat.MeanStdDev(d.trailing[:d.trailN], nil)
	if math.IsNaN(std) {
		std = 0
	}
	t := mean + d.cfg.AdaptiveK*std
	if t < adaptiveFloor {
		t = adaptiveFloor
	}
	if t > adaptiveCeil {
		t = adaptiveCeil
	}
	return float32(t)
}

// InSpeech reports whether the detector is inside a speech segment.
func (d *Detector) InSpeech() bool { return d.inSpeech }

// PendingSilenceFrames returns how many consecutive sub-threshold frames
// have elapsed inside the current speech segment. 1 marks the onset of a
// candidate silence run; 0 means speech (or no segment) is ongoing.
func (d *Detector) PendingSilenceFrames() int { return d.silenceFrames }

// Stats returns a copy of the accumulated statistics.
func (d *Detector) Stats() Stats {
	s := d.stats
	if d.probSeen > 0 {
		s.AvgConfidence = float32(d.probSum / float64(d.probSeen))
	}
	return s
}

// Reset clears scorer and detection state (stream boundary).
func (d *Detector) Reset() {
	d.scorer.Reset()
	d.smoothIdx, d.smoothN = 0, 0
	d.trailIdx, d.trailN = 0, 0
	d.inSpeech = false
	d.silenceFrames = 0
}

// Close releases the underlying scorer.
func (d *Detector) Close() error { return d.scorer.Close() }
