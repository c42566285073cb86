// Package pitch implements the tuner's analysis chain: a YIN fundamental
// frequency estimator, a note classifier and the worker that feeds them from
// the capture queue.
package pitch

import (
	"math"
	"math/cmplx"
	"sort"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// Detection bounds and gates. The frequency range spans A0 to C8.
const (
	MinFrequency = 27.5
	MaxFrequency = 4186.0

	yinThreshold        = 0.15
	ConfidenceThreshold = 0.85
	AmplitudeThreshold  = 0.01

	medianWindow = 5
)

// Reading is one pitch estimate. Frequency is median-smoothed over the last
// five accepted estimates.
type Reading struct {
	Frequency  float64
	Confidence float64
	RMS        float64
	Time       time.Time
}

// Valid applies the gating rule: confident and loud enough to trust.
func (r Reading) Valid() bool {
	return r.Confidence > ConfidenceThreshold && r.RMS > AmplitudeThreshold
}

// Detector runs YIN over fixed-size blocks. The difference function is
// evaluated through FFT autocorrelation,
//
//	d(τ) = E(0) + E(τ) - 2·r(τ)
//
// with prefix-sum window energies, which is exact and keeps a 4096-sample
// block well under the capture cadence. Scratch buffers are reused across
// blocks, so a Detector is not safe for concurrent Process calls.
type Detector struct {
	sampleRate float64
	history    []float64

	blockLen int
	padA     []float64
	padB     []float64
	diff     []float64
	cmnd     []float64
	prefix   []float64
}

// NewDetector builds a detector for one sample rate.
func NewDetector(sampleRate int) *Detector {
	return &Detector{
		sampleRate: float64(sampleRate),
		history:    make([]float64, 0, medianWindow),
	}
}

// Reset drops the smoothing history, e.g. when capture restarts.
func (d *Detector) Reset() {
	d.history = d.history[:0]
}

// Process analyzes one block. The block must be at least
// ceil(sampleRate/MinFrequency) samples long; shorter blocks and silent or
// unpitched input return ok=false. The returned reading carries the RMS even
// when no pitch was found. Process never panics on malformed input.
func (d *Detector) Process(block []float64, at time.Time) (Reading, bool) {
	n := len(block)
	tauMin := int(math.Ceil(d.sampleRate / MaxFrequency))
	tauMax := int(math.Floor(d.sampleRate / MinFrequency))
	if n == 0 || tauMax >= n || tauMin < 1 {
		return Reading{Time: at}, false
	}

	rms := rootMeanSquare(block)
	reading := Reading{RMS: rms, Time: at}
	if rms <= AmplitudeThreshold {
		return reading, false
	}

	d.prepare(n, tauMax)
	d.difference(block, tauMax)
	d.normalize(tauMax)

	tau := d.absoluteThreshold(tauMin, tauMax)
	if tau < 0 {
		return reading, false
	}

	tauStar := d.parabolic(tau, tauMax)
	freq := d.sampleRate / tauStar
	if freq < MinFrequency || freq > MaxFrequency {
		return reading, false
	}

	reading.Confidence = clamp01(1 - d.cmnd[tau])
	reading.Frequency = d.smooth(freq)
	return reading, true
}

// prepare sizes the scratch buffers for a block length.
func (d *Detector) prepare(n, tauMax int) {
	if d.blockLen == n {
		return
	}
	d.blockLen = n
	l := nextPow2(n)
	d.padA = make([]float64, l)
	d.padB = make([]float64, l)
	d.diff = make([]float64, tauMax+1)
	d.cmnd = make([]float64, tauMax+1)
	d.prefix = make([]float64, n+1)
}

// difference fills d.diff with the windowed difference function
// d(τ) = Σ_{j=0..W-1} (x[j]-x[j+τ])² for the fixed window W = n - tauMax.
func (d *Detector) difference(block []float64, tauMax int) {
	n := len(block)
	w := n - tauMax

	for i := range d.padA {
		d.padA[i] = 0
		d.padB[i] = 0
	}
	copy(d.padA[:w], block[:w])
	copy(d.padB, block)

	specA := fft.FFTReal(d.padA)
	specB := fft.FFTReal(d.padB)
	for i := range specA {
		specA[i] = cmplx.Conj(specA[i]) * specB[i]
	}
	corr := fft.IFFT(specA)

	d.prefix[0] = 0
	for i, v := range block {
		d.prefix[i+1] = d.prefix[i] + v*v
	}
	e0 := d.prefix[w]
	for tau := 0; tau <= tauMax; tau++ {
		eTau := d.prefix[tau+w] - d.prefix[tau]
		v := e0 + eTau - 2*real(corr[tau])
		if v < 0 {
			v = 0
		}
		d.diff[tau] = v
	}
}

// normalize computes the cumulative mean-normalized difference.
func (d *Detector) normalize(tauMax int) {
	d.cmnd[0] = 1
	sum := 0.0
	for tau := 1; tau <= tauMax; tau++ {
		sum += d.diff[tau]
		if sum > 0 {
			d.cmnd[tau] = d.diff[tau] * float64(tau) / sum
		} else {
			d.cmnd[tau] = 1
		}
	}
}

// absoluteThreshold finds the first dip under the threshold and walks into
// its local minimum. Returns -1 when no dip qualifies.
func (d *Detector) absoluteThreshold(tauMin, tauMax int) int {
	for tau := tauMin; tau < tauMax; tau++ {
		if d.cmnd[tau] >= yinThreshold {
			continue
		}
		for tau+1 <= tauMax && d.cmnd[tau+1] < d.cmnd[tau] {
			tau++
		}
		return tau
	}
	return -1
}

// parabolic refines the lag estimate by fitting a parabola through the
// minimum and its neighbors.
func (d *Detector) parabolic(tau, tauMax int) float64 {
	if tau <= 0 || tau >= tauMax {
		return float64(tau)
	}
	s0, s1, s2 := d.cmnd[tau-1], d.cmnd[tau], d.cmnd[tau+1]
	denom := 2 * (2*s1 - s2 - s0)
	if denom == 0 {
		return float64(tau)
	}
	return float64(tau) + (s2-s0)/denom
}

// smooth appends an accepted frequency to the history and returns the median
// of the window; an even count averages the two middle values.
func (d *Detector) smooth(freq float64) float64 {
	if len(d.history) == medianWindow {
		copy(d.history, d.history[1:])
		d.history = d.history[:medianWindow-1]
	}
	d.history = append(d.history, freq)

	sorted := make([]float64, len(d.history))
	copy(sorted, d.history)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func rootMeanSquare(block []float64) float64 {
	if len(block) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range block {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nextPow2(n int) int {
	l := 1
	for l < n {
		l <<= 1
	}
	return l
}
