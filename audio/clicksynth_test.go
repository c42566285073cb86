package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickSetBufferShapes(t *testing.T) {
	t.Parallel()

	set := SynthesizeClickSet(44100)
	require.Equal(t, 44100, set.SampleRate())

	tests := []struct {
		kind     ClickKind
		duration float64
		gain     float64
	}{
		{kind: ClickAccent, duration: 0.030, gain: 0.40},
		{kind: ClickNormal, duration: 0.025, gain: 0.25},
		{kind: ClickSubdivision, duration: 0.015, gain: 0.10},
	}
	for _, tt := range tests {
		buf := set.Buffer(tt.kind)
		assert.Equal(t, int(44100*tt.duration), len(buf), "%v length", tt.kind)

		peak := 0.0
		for _, s := range buf {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
		assert.InDelta(t, tt.gain, peak, 1e-9, "%v peak", tt.kind)
	}
}

func TestClickDecaysToSilence(t *testing.T) {
	t.Parallel()

	set := SynthesizeClickSet(44100)
	for kind := ClickKind(0); kind < numClickKinds; kind++ {
		buf := set.Buffer(kind)
		head := energy(buf[:len(buf)/10])
		tail := energy(buf[len(buf)-len(buf)/10:])
		assert.Greater(t, head, tail*10, "%v transient should decay", kind)
	}
}

func TestClickSynthesisIsDeterministic(t *testing.T) {
	t.Parallel()

	a := SynthesizeClickSet(48000)
	b := SynthesizeClickSet(48000)
	for kind := ClickKind(0); kind < numClickKinds; kind++ {
		assert.Equal(t, a.Buffer(kind), b.Buffer(kind))
	}
}

func energy(s []float64) float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return sum
}
