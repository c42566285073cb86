package pitch

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 44100

var t0 = time.Unix(50, 0)

func sine(freq, amplitude float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return out
}

func TestDetectorFindsPureSines(t *testing.T) {
	t.Parallel()

	for _, freq := range []float64{82.41, 110, 196, 329.63, 440, 659.25, 987.77, 1200} {
		d := NewDetector(testRate)
		reading, ok := d.Process(sine(freq, 0.3, 4096), t0)
		require.True(t, ok, "no pitch at %.2f Hz", freq)
		assert.Less(t, math.Abs(reading.Frequency-freq)/freq, 0.002,
			"%.2f Hz detected as %.3f Hz", freq, reading.Frequency)
		assert.Greater(t, reading.Confidence, ConfidenceThreshold)
		assert.True(t, reading.Valid())
	}
}

func TestDetectorOnNoisyA4(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	block := sine(440, 0.3, 4096)
	for i := range block {
		block[i] += 0.005 * (rng.Float64()*2 - 1)
	}

	d := NewDetector(testRate)
	reading, ok := d.Process(block, t0)
	require.True(t, ok)
	assert.InDelta(t, 440.0, reading.Frequency, 0.9)
	assert.True(t, reading.Valid())
}

func TestDetectorRejectsSilence(t *testing.T) {
	t.Parallel()

	d := NewDetector(testRate)

	reading, ok := d.Process(make([]float64, 4096), t0)
	assert.False(t, ok)
	assert.Zero(t, reading.Frequency)

	// Quiet signal under the amplitude gate is rejected with the RMS
	// annotation preserved.
	reading, ok = d.Process(sine(440, 0.005, 4096), t0)
	assert.False(t, ok)
	assert.Greater(t, reading.RMS, 0.0)
	assert.False(t, reading.Valid())
}

func TestDetectorRejectsUnpitchedNoise(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	block := make([]float64, 4096)
	for i := range block {
		block[i] = 0.3 * (rng.Float64()*2 - 1)
	}

	d := NewDetector(testRate)
	_, ok := d.Process(block, t0)
	assert.False(t, ok)
}

func TestDetectorRejectsShortBlock(t *testing.T) {
	t.Parallel()

	d := NewDetector(testRate)
	_, ok := d.Process(sine(440, 0.3, 1024), t0)
	assert.False(t, ok)

	_, ok = d.Process(nil, t0)
	assert.False(t, ok)
}

func TestMedianSmoothingOverHistory(t *testing.T) {
	t.Parallel()

	d := NewDetector(testRate)

	// Two accepted readings: the even-count median is the mean of the two
	// middle values.
	r1, ok := d.Process(sine(440, 0.3, 4096), t0)
	require.True(t, ok)
	assert.InDelta(t, 440, r1.Frequency, 1)

	r2, ok := d.Process(sine(450, 0.3, 4096), t0)
	require.True(t, ok)
	assert.InDelta(t, 445, r2.Frequency, 1)

	// Three readings: the middle value wins.
	r3, ok := d.Process(sine(450, 0.3, 4096), t0)
	require.True(t, ok)
	assert.InDelta(t, 450, r3.Frequency, 1)

	// The window holds five entries; a Reset forgets them.
	d.Reset()
	r4, ok := d.Process(sine(330, 0.3, 4096), t0)
	require.True(t, ok)
	assert.InDelta(t, 330, r4.Frequency, 1)
}

func TestRMS(t *testing.T) {
	t.Parallel()

	assert.Zero(t, rootMeanSquare(nil))
	assert.InDelta(t, 0.3/math.Sqrt2, rootMeanSquare(sine(441, 0.3, 4410)), 1e-3)
}
