package rhythm

import (
	"time"

	"github.com/pkg/errors"
)

// BPM bounds. Every mutation clamps into this range.
const (
	MinBPM = 20
	MaxBPM = 300
)

// Time signature bounds.
const (
	MinBeatsPerBar = 1
	MaxBeatsPerBar = 32
)

// ErrInvalidConfig reports a configuration value outside its contract. It is
// only returned from explicit constructors; mutation paths clamp instead.
var ErrInvalidConfig = errors.New("invalid metronome config")

// TimeSignature is an immutable (beats per bar, beat unit) pair. Replacing it
// resets the bar/beat counters and resizes the accent pattern.
type TimeSignature struct {
	BeatsPerBar int
	BeatUnit    int
}

// NewTimeSignature validates the pair. The beat unit must be 2, 4, 8 or 16.
func NewTimeSignature(beatsPerBar, beatUnit int) (TimeSignature, error) {
	if beatsPerBar < MinBeatsPerBar || beatsPerBar > MaxBeatsPerBar {
		return TimeSignature{}, errors.Wrapf(ErrInvalidConfig, "beats per bar %d", beatsPerBar)
	}
	switch beatUnit {
	case 2, 4, 8, 16:
	default:
		return TimeSignature{}, errors.Wrapf(ErrInvalidConfig, "beat unit %d", beatUnit)
	}
	return TimeSignature{BeatsPerBar: beatsPerBar, BeatUnit: beatUnit}, nil
}

// CommonTime is the 4/4 default.
var CommonTime = TimeSignature{BeatsPerBar: 4, BeatUnit: 4}

// Subdivision is the even division of a beat. The zero value means no
// subdivision (one tick per beat).
type Subdivision int

const (
	SubdivisionNone      Subdivision = 0
	SubdivisionEighth    Subdivision = 2
	SubdivisionTriplet   Subdivision = 3
	SubdivisionSixteenth Subdivision = 4
)

// Divisor returns the number of ticks per beat, always >= 1.
func (s Subdivision) Divisor() int {
	if s < SubdivisionEighth {
		return 1
	}
	return int(s)
}

// Enabled reports whether the subdivision produces extra ticks.
func (s Subdivision) Enabled() bool {
	return s.Divisor() > 1
}

func (s Subdivision) String() string {
	switch s {
	case SubdivisionEighth:
		return "eighth"
	case SubdivisionTriplet:
		return "triplet"
	case SubdivisionSixteenth:
		return "sixteenth"
	default:
		return "none"
	}
}

// SubdivisionFromDivisor maps a wire divisor (2, 3 or 4) back to the enum.
// Anything else means none.
func SubdivisionFromDivisor(d int) Subdivision {
	switch d {
	case 2, 3, 4:
		return Subdivision(d)
	default:
		return SubdivisionNone
	}
}

// AccentPattern marks which beats in a bar are accented. The invariant is
// that at least one entry is true.
type AccentPattern []bool

// Resize truncates or pads the pattern to n beats, then restores the
// at-least-one-accent invariant.
func (p AccentPattern) Resize(n int) AccentPattern {
	out := make(AccentPattern, n)
	copy(out, p)
	return out.ensureAccent()
}

// Toggle flips beat i and restores the invariant: a toggle that would leave
// the bar accentless re-asserts the first beat.
func (p AccentPattern) Toggle(i int) AccentPattern {
	out := make(AccentPattern, len(p))
	copy(out, p)
	if i >= 0 && i < len(out) {
		out[i] = !out[i]
	}
	return out.ensureAccent()
}

// Set assigns beat i and restores the invariant.
func (p AccentPattern) Set(i int, v bool) AccentPattern {
	out := make(AccentPattern, len(p))
	copy(out, p)
	if i >= 0 && i < len(out) {
		out[i] = v
	}
	return out.ensureAccent()
}

func (p AccentPattern) ensureAccent() AccentPattern {
	for _, v := range p {
		if v {
			return p
		}
	}
	if len(p) > 0 {
		p[0] = true
	}
	return p
}

// HasAccent reports whether any beat is accented.
func (p AccentPattern) HasAccent() bool {
	for _, v := range p {
		if v {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (p AccentPattern) Clone() AccentPattern {
	out := make(AccentPattern, len(p))
	copy(out, p)
	return out
}

// Config is the authoritative metronome configuration. Values are plain so a
// Config can be published as an immutable snapshot; all mutation helpers
// return a normalized copy.
type Config struct {
	BPM           int
	TimeSignature TimeSignature
	Accents       AccentPattern
	Subdivision   Subdivision
}

// DefaultConfig is 120 BPM, 4/4, first beat accented, no subdivision.
func DefaultConfig() Config {
	return Config{
		BPM:           120,
		TimeSignature: CommonTime,
		Accents:       AccentPattern{true, false, false, false},
		Subdivision:   SubdivisionNone,
	}.Normalized()
}

// ClampBPM pins a tempo into [MinBPM, MaxBPM].
func ClampBPM(bpm int) int {
	if bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}

// Normalized clamps the tempo, sizes the accent pattern to the bar length and
// restores the accent invariant. Every mutation path goes through here.
func (c Config) Normalized() Config {
	c.BPM = ClampBPM(c.BPM)
	if c.TimeSignature.BeatsPerBar < MinBeatsPerBar {
		c.TimeSignature = CommonTime
	}
	if len(c.Accents) != c.TimeSignature.BeatsPerBar {
		c.Accents = c.Accents.Resize(c.TimeSignature.BeatsPerBar)
	} else {
		c.Accents = c.Accents.Clone().ensureAccent()
	}
	return c
}

// BeatInterval returns the duration of one beat.
func (c Config) BeatInterval() time.Duration {
	return time.Duration(60 * float64(time.Second) / float64(c.BPM))
}

// TickInterval returns the duration of one tick: a beat when subdivision is
// off, otherwise beat/divisor.
func (c Config) TickInterval() time.Duration {
	return time.Duration(60 * float64(time.Second) / float64(c.BPM) / float64(c.Subdivision.Divisor()))
}

// TicksPerBar returns the number of ticks in a full bar.
func (c Config) TicksPerBar() int {
	return c.TimeSignature.BeatsPerBar * c.Subdivision.Divisor()
}

// Equal reports deep equality with another config.
func (c Config) Equal(o Config) bool {
	if c.BPM != o.BPM || c.TimeSignature != o.TimeSignature || c.Subdivision != o.Subdivision {
		return false
	}
	if len(c.Accents) != len(o.Accents) {
		return false
	}
	for i := range c.Accents {
		if c.Accents[i] != o.Accents[i] {
			return false
		}
	}
	return true
}
