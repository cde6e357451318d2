// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

type resampler interface {
	resample(in []float32) []float32
}

// ── linear ──────────────────────────────────────────────────────────────

type linearResampler struct {
	srcRate int
	dstRate int
}

func newLinearResampler(srcRate, dstRate int) *linearResampler {
	return &linearResampler{srcRate: srcRate, dstRate: dstRate}
}

func (r *linearResampler) resample(in []float32) []float32 {
	if len(in) == 0 || r.srcRate == r.dstRate {
		return in
	}
	outLen := len(in) * r.dstRate / r.srcRate
	out := make([]float32, outLen)
	step := float64(r.srcRate) / float64(r.dstRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// ── FFT spectral ────────────────────────────────────────────────────────

type fftResampler struct {
	srcRate int
	dstRate int
}

func newFFTResampler(srcRate, dstRate int) *fftResampler {
	return &fftResampler{srcRate: srcRate, dstRate: dstRate}
}

func (r *fftResampler) resample(in []float32) []float32 {
	n := len(in)
	if n == 0 || r.srcRate == r.dstRate {
		return in
	}
	m := n * r.dstRate / r.srcRate
	if m == 0 {
		return nil
	}

	seq := make([]float64, n)
	for i, v := range in {
		seq[i] = float64(v)
	}
	fwd := fourier.NewFFT(n)
	coeffs := fwd.Coefficients(nil, seq)

	// Truncate (downsample) or zero-pad (upsample) the spectrum.
	dstCoeffs := make([]complex128, m/2+1)
	copy(dstCoeffs, coeffs[:minInt(len(coeffs), len(dstCoeffs))])

	inv := fourier.NewFFT(m)
	res := inv.Sequence(nil, dstCoeffs)

	out := make([]float32, m)
	scale := 1.0 / float64(n)
	for i, v := range res {
		out[i] = float32(v * scale)
	}
	return out
}

// ── windowed-sinc polyphase ─────────────────────────────────────────────

const (
	polyTapsPerPhase = 16
	polyCutoffScale  = 0.95
)

type polyphaseResampler struct {
	up    int
	down  int
	taps  [][]float64 // per-phase filter banks
	nTaps int
}

func newPolyphaseResampler(srcRate, dstRate int) *polyphaseResampler {
	g := gcd(srcRate, dstRate)
	up := dstRate / g
	down := srcRate / g

	r := &polyphaseResampler{up: up, down: down, nTaps: polyTapsPerPhase}
	r.buildFilter()
	return r
}

func (r *polyphaseResampler) buildFilter() {
	// Lowpass at the narrower of the two Nyquist frequencies, expressed in
	// the upsampled domain, with a Blackman window.
	total := r.up * r.nTaps
	cutoff := polyCutoffScale / float64(maxInt(r.up, r.down))
	proto := make([]float64, total)
	center := float64(total-1) / 2
	var sum float64
	for i := range proto {
		x := float64(i) - center
		proto[i] = sinc(cutoff*x) * blackman(i, total)
		sum += proto[i]
	}
	// Normalise total DC gain to `up` so each interleaved phase sums to ~1.
	if sum != 0 {
		norm := float64(r.up) / sum
		for i := range proto {
			proto[i] *= norm
		}
	}

	r.taps = make([][]float64, r.up)
	for p := 0; p < r.up; p++ {
		r.taps[p] = make([]float64, r.nTaps)
		for t := 0; t < r.nTaps; t++ {
			idx := t*r.up + p
			if idx < total {
				r.taps[p][t] = proto[idx]
			}
		}
	}
}

func (r *polyphaseResampler) resample(in []float32) []float32 {
	if len(in) == 0 || r.up == r.down {
		return in
	}
	outLen := len(in) * r.up / r.down
	out := make([]float32, outLen)
	half := r.nTaps / 2
	for i := range out {
		// Position of output sample i in the upsampled grid.
		t := i * r.down
		phase := t % r.up
		base := t / r.up
		var acc float64
		taps := r.taps[phase]
		for k := 0; k < r.nTaps; k++ {
			j := base - half + k
			if j < 0 || j >= len(in) {
				continue
			}
			acc += float64(in[j]) * taps[r.nTaps-1-k]
		}
		out[i] = float32(acc)
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func blackman(i, n int) float64 {
	if n <= 1 {
		return 1
	}
	x := 2 * math.Pi * float64(i) / float64(n-1)
	return 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
