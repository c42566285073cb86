package pitch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentSymmetry(t *testing.T) {
	t.Parallel()

	c := NewClassifier(440, 0, 0)
	for midi := 0; midi <= 127; midi++ {
		freq := c.FrequencyOf(midi)
		note, ok := c.Classify(freq)
		require.True(t, ok, "midi %d", midi)
		assert.Equal(t, midi, note.MIDI)
		assert.InDelta(t, 0, note.Cents, 1e-6, "midi %d", midi)
	}
}

func TestClassifyA4(t *testing.T) {
	t.Parallel()

	c := NewClassifier(440, 0, 0)
	note, ok := c.Classify(440)
	require.True(t, ok)
	assert.Equal(t, 69, note.MIDI)
	assert.Equal(t, "A", note.Name)
	assert.Equal(t, 4, note.Octave)
	assert.InDelta(t, 0, note.Cents, 1e-9)
	assert.Equal(t, AccuracyInTune, c.Accuracy(note.Cents))
}

func TestClassifyOffPitch(t *testing.T) {
	t.Parallel()

	c := NewClassifier(440, 0, 0)

	// A quarter tone above A4 rounds up to A#4 at -50 cents.
	freq := 440 * math.Pow(2, 50.0/1200)
	note, ok := c.Classify(freq)
	require.True(t, ok)
	assert.Equal(t, 70, note.MIDI)
	assert.Equal(t, "A#", note.Name)
	assert.InDelta(t, -50, note.Cents, 1e-6)
}

func TestClassifyNoteNamesAndOctaves(t *testing.T) {
	t.Parallel()

	c := NewClassifier(440, 0, 0)
	tests := []struct {
		midi   int
		name   string
		octave int
	}{
		{midi: 60, name: "C", octave: 4},
		{midi: 21, name: "A", octave: 0},
		{midi: 0, name: "C", octave: -1},
		{midi: 127, name: "G", octave: 9},
		{midi: 61, name: "C#", octave: 4},
	}
	for _, tt := range tests {
		note, ok := c.Classify(c.FrequencyOf(tt.midi))
		require.True(t, ok)
		assert.Equal(t, tt.name, note.Name, "midi %d", tt.midi)
		assert.Equal(t, tt.octave, note.Octave, "midi %d", tt.midi)
	}
}

func TestClassifyOutOfRange(t *testing.T) {
	t.Parallel()

	c := NewClassifier(440, 0, 0)

	_, ok := c.Classify(0)
	assert.False(t, ok)

	_, ok = c.Classify(4.0)
	assert.False(t, ok)

	_, ok = c.Classify(30000)
	assert.False(t, ok)
}

func TestAccuracyBuckets(t *testing.T) {
	t.Parallel()

	c := NewClassifier(440, 0, 0)
	assert.Equal(t, AccuracyInTune, c.Accuracy(0))
	assert.Equal(t, AccuracyInTune, c.Accuracy(-4.9))
	assert.Equal(t, AccuracyClose, c.Accuracy(5))
	assert.Equal(t, AccuracyClose, c.Accuracy(-19.9))
	assert.Equal(t, AccuracyFar, c.Accuracy(20))
	assert.Equal(t, AccuracyFar, c.Accuracy(-45))
}

func TestReferencePitchClamped(t *testing.T) {
	t.Parallel()

	c := NewClassifier(400, 0, 0)
	assert.Equal(t, 440.0, c.ReferencePitch())

	c.SetReferencePitch(500)
	assert.Equal(t, 466.0, c.ReferencePitch())
	c.SetReferencePitch(100)
	assert.Equal(t, 415.0, c.ReferencePitch())

	// A flatter reference shifts every expected frequency with it.
	c.SetReferencePitch(415)
	note, ok := c.Classify(415)
	require.True(t, ok)
	assert.Equal(t, 69, note.MIDI)
	assert.InDelta(t, 0, note.Cents, 1e-9)
}
