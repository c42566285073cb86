package pitch

import (
	"math"
)

// Reference pitch bounds (Hz). 440 is standard concert pitch; 415 and 466
// cover baroque and high-pitch ensembles.
const (
	MinReferencePitch     = 415.0
	MaxReferencePitch     = 466.0
	DefaultReferencePitch = 440.0
)

// Default tuning accuracy thresholds in cents.
const (
	DefaultInTuneCents = 5.0
	DefaultCloseCents  = 20.0
)

// Accuracy buckets a cent offset for display and haptic feedback.
type Accuracy int

const (
	AccuracyInTune Accuracy = iota
	AccuracyClose
	AccuracyFar
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyInTune:
		return "in_tune"
	case AccuracyClose:
		return "close"
	default:
		return "far"
	}
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note is the hypothesis derived from a frequency: the nearest equal-tempered
// pitch and the deviation from it.
type Note struct {
	MIDI           int
	Name           string
	Octave         int
	Frequency      float64 // expected frequency of the MIDI pitch
	Cents          float64 // deviation of the measured frequency, in cents
	ReferencePitch float64
}

// Classifier maps frequencies onto the equal-tempered scale around a
// reference pitch.
type Classifier struct {
	referencePitch float64
	inTuneCents    float64
	closeCents     float64
}

// NewClassifier builds a classifier. A reference pitch outside [415, 466]
// falls back to the default 440; zero thresholds fall back to the defaults.
func NewClassifier(referencePitch, inTuneCents, closeCents float64) *Classifier {
	if referencePitch < MinReferencePitch || referencePitch > MaxReferencePitch {
		referencePitch = DefaultReferencePitch
	}
	if inTuneCents <= 0 {
		inTuneCents = DefaultInTuneCents
	}
	if closeCents <= 0 {
		closeCents = DefaultCloseCents
	}
	return &Classifier{
		referencePitch: referencePitch,
		inTuneCents:    inTuneCents,
		closeCents:     closeCents,
	}
}

// ReferencePitch returns the reference in Hz.
func (c *Classifier) ReferencePitch() float64 {
	return c.referencePitch
}

// SetReferencePitch replaces the reference, clamped into [415, 466].
func (c *Classifier) SetReferencePitch(hz float64) {
	if hz < MinReferencePitch {
		hz = MinReferencePitch
	}
	if hz > MaxReferencePitch {
		hz = MaxReferencePitch
	}
	c.referencePitch = hz
}

// Classify maps a frequency to the nearest note. ok is false when the
// frequency lands outside the MIDI range 0..127.
func (c *Classifier) Classify(freq float64) (Note, bool) {
	if freq <= 0 {
		return Note{}, false
	}
	m := 69 + 12*math.Log2(freq/c.referencePitch)
	midi := int(math.Round(m))
	if midi < 0 || midi > 127 {
		return Note{}, false
	}
	expected := c.FrequencyOf(midi)
	return Note{
		MIDI:           midi,
		Name:           noteNames[((midi%12)+12)%12],
		Octave:         midi/12 - 1,
		Frequency:      expected,
		Cents:          1200 * math.Log2(freq/expected),
		ReferencePitch: c.referencePitch,
	}, true
}

// FrequencyOf returns the equal-tempered frequency of a MIDI number under the
// current reference pitch.
func (c *Classifier) FrequencyOf(midi int) float64 {
	return c.referencePitch * math.Pow(2, float64(midi-69)/12)
}

// Accuracy buckets a cent offset: |cents| < 5 is in tune, < 20 close,
// otherwise far (defaults; both thresholds are configurable).
func (c *Classifier) Accuracy(cents float64) Accuracy {
	abs := math.Abs(cents)
	switch {
	case abs < c.inTuneCents:
		return AccuracyInTune
	case abs < c.closeCents:
		return AccuracyClose
	default:
		return AccuracyFar
	}
}
