package rhythm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Unix(100, 0)

func testConfig(bpm int, beats int, sub Subdivision) Config {
	return Config{
		BPM:           bpm,
		TimeSignature: TimeSignature{BeatsPerBar: beats, BeatUnit: 4},
		Accents:       PresetStandard.Pattern(beats),
		Subdivision:   sub,
	}.Normalized()
}

func TestTickGridIsExact(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Arm(testConfig(120, 4, SubdivisionNone), base)

	events := e.Tick(base.Add(10*time.Second), nil)
	require.Len(t, events, 21)

	for k, ev := range events {
		assert.True(t, ev.Time.Equal(base.Add(time.Duration(k)*500*time.Millisecond)),
			"tick %d scheduled at %v", k, ev.Time)
		assert.Equal(t, uint64(k), ev.TickIndex)
		assert.Equal(t, uint64(k/4), ev.Bar)
		assert.Equal(t, k%4, ev.BeatInBar)
		assert.True(t, ev.OnBeat)
		assert.Equal(t, k%4 == 0, ev.Accent)
	}
}

func TestTickNeverSkipsOrDoubles(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Arm(testConfig(120, 4, SubdivisionNone), base)

	// Irregular polling, including a long stall, must still yield every
	// tick exactly once and in order.
	polls := []time.Duration{0, 40 * time.Millisecond, 2 * time.Second, 2100 * time.Millisecond, 5 * time.Second}
	var all []Event
	for _, at := range polls {
		all = e.Tick(base.Add(at), all)
	}

	require.Len(t, all, 11)
	for k, ev := range all {
		assert.Equal(t, uint64(k), ev.TickIndex)
	}
}

func TestDriftStaysBoundedOverAnHour(t *testing.T) {
	t.Parallel()

	// 140 BPM has a non-integral nanosecond interval, the worst case for
	// accumulated rounding.
	cfg := testConfig(140, 4, SubdivisionNone)
	e := NewEngine()
	e.Arm(cfg, base)

	n := 140 * 60 // one hour of beats
	events := e.Tick(base.Add(time.Hour), nil)
	require.GreaterOrEqual(t, len(events), n)

	elapsed := events[n-1].Time.Sub(events[0].Time)
	ideal := time.Duration(float64(n-1) * 60 / 140 * float64(time.Second))
	diff := elapsed - ideal
	if diff < 0 {
		diff = -diff
	}
	assert.Less(t, diff, 100*time.Microsecond, "drift after an hour: %v", diff)
}

func TestIdleEngineYieldsNothing(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	assert.Empty(t, e.Tick(base.Add(time.Minute), nil))
	assert.Equal(t, EngineIdle, e.State())

	e.Arm(testConfig(120, 4, SubdivisionNone), base)
	assert.Equal(t, EngineArmed, e.State())
	e.Tick(base, nil)
	assert.Equal(t, EngineRunning, e.State())

	e.Disarm()
	assert.Equal(t, EngineIdle, e.State())
	assert.Empty(t, e.Tick(base.Add(time.Minute), nil))
}

func TestReconfigurePreservesPhase(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Arm(testConfig(120, 4, SubdivisionNone), base)
	e.Tick(base.Add(200*time.Millisecond), nil) // consume tick 0

	// Halfway through a 500 ms tick; halving the tempo doubles the
	// interval, so half of the new 1 s interval must remain.
	now := base.Add(250 * time.Millisecond)
	e.Reconfigure(testConfig(60, 4, SubdivisionNone), now)

	next, ok := e.NextTickTime()
	require.True(t, ok)
	assert.True(t, next.Equal(now.Add(500*time.Millisecond)), "next tick at %v", next)
}

func TestReconfigureDoesNotAdvanceTickIndex(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Arm(testConfig(120, 4, SubdivisionNone), base)
	e.Tick(base.Add(1100*time.Millisecond), nil) // ticks 0..2 consumed

	now := base.Add(1200 * time.Millisecond)
	e.Reconfigure(testConfig(240, 4, SubdivisionNone), now)

	events := e.Tick(base.Add(10*time.Second), nil)
	require.NotEmpty(t, events)
	// Tick 3 is still the next tick: 2.4 ticks elapsed at the reconfigure
	// instant, so 0.6 of the new 250 ms interval remains.
	assert.Equal(t, uint64(3), events[0].TickIndex)
	assert.True(t, events[0].Time.Equal(now.Add(150*time.Millisecond)), "next tick at %v", events[0].Time)
}

func TestReconfigureAcrossSubdivisionKeepsBeatPosition(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Arm(testConfig(120, 4, SubdivisionNone), base)
	e.Tick(base.Add(100*time.Millisecond), nil) // consume tick 0

	// Half a beat elapsed at now=250ms maps to exactly 2.0 sixteenth
	// ticks; the boundary tick is dropped and the next tick is index 3 at
	// 375 ms into the bar.
	now := base.Add(250 * time.Millisecond)
	e.Reconfigure(testConfig(120, 4, SubdivisionSixteenth), now)

	events := e.Tick(base.Add(time.Second), nil)
	require.NotEmpty(t, events)
	first := events[0]
	assert.Equal(t, uint64(3), first.TickIndex)
	assert.False(t, first.OnBeat)
	assert.True(t, first.Time.Equal(base.Add(375*time.Millisecond)), "first tick at %v", first.Time)
}

func TestReconfigureDropsOverdueTicks(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Arm(testConfig(120, 4, SubdivisionNone), base)
	e.Tick(base, nil)

	// Stall past several ticks, then reconfigure: the overdue ticks are
	// dropped and the next tick lands strictly after now.
	now := base.Add(3200 * time.Millisecond)
	e.Reconfigure(testConfig(120, 4, SubdivisionNone), now)

	next, ok := e.NextTickTime()
	require.True(t, ok)
	assert.True(t, next.After(now))
	assert.True(t, next.Sub(now) <= 500*time.Millisecond)
}

func TestSubdivisionEmitsExactlyDivisorTicksPerBeat(t *testing.T) {
	t.Parallel()

	for _, sub := range []Subdivision{SubdivisionEighth, SubdivisionTriplet, SubdivisionSixteenth} {
		e := NewEngine()
		cfg := testConfig(120, 4, sub)
		e.Arm(cfg, base)

		barLen := time.Duration(cfg.TicksPerBar()) * cfg.TickInterval()
		events := e.Tick(base.Add(barLen-time.Nanosecond), nil)
		require.Len(t, events, cfg.TicksPerBar(), "subdivision %v", sub)

		divisor := sub.Divisor()
		for i, ev := range events {
			if i%divisor == 0 {
				assert.True(t, ev.OnBeat, "tick %d", i)
				assert.Equal(t, 0, ev.SubdivIndex)
			} else {
				assert.False(t, ev.OnBeat, "tick %d", i)
				assert.Equal(t, i%divisor, ev.SubdivIndex)
			}
		}
	}
}

func TestSevenEightDjentBarLayout(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BPM:           140,
		TimeSignature: TimeSignature{BeatsPerBar: 7, BeatUnit: 8},
		Accents:       PresetDjent.Pattern(7),
		Subdivision:   SubdivisionSixteenth,
	}.Normalized()

	e := NewEngine()
	e.Arm(cfg, base)

	barLen := time.Duration(cfg.TicksPerBar()) * cfg.TickInterval()
	events := e.Tick(base.Add(barLen-time.Nanosecond), nil)
	require.Len(t, events, 28)

	wantAccents := []bool{true, false, false, true, false, true, false}
	beatInterval := cfg.BeatInterval()
	assert.InDelta(t, 60.0/140.0, beatInterval.Seconds(), 1e-9)
	assert.InDelta(t, 60.0/140.0/4, cfg.TickInterval().Seconds(), 2e-9)

	for i, ev := range events {
		if i%4 == 0 {
			beat := i / 4
			assert.True(t, ev.OnBeat, "tick %d", i)
			assert.Equal(t, beat, ev.BeatInBar)
			assert.Equal(t, wantAccents[beat], ev.Accent, "beat %d", beat)
		} else {
			assert.False(t, ev.OnBeat)
			assert.False(t, ev.Accent)
		}
	}
}

func TestResyncSkipsMissedTicksAndKeepsGrid(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.Arm(testConfig(120, 4, SubdivisionNone), base)
	e.Tick(base.Add(1100*time.Millisecond), nil)

	// Suspended from 1.1 s to 1.85 s: the 1.5 s tick is skipped silently
	// and the next dispatched tick stays on the original bar grid.
	e.Resync(base.Add(1850 * time.Millisecond))

	events := e.Tick(base.Add(2*time.Second), nil)
	require.Len(t, events, 1)
	assert.True(t, events[0].Time.Equal(base.Add(2*time.Second)))
	assert.Equal(t, uint64(4), events[0].TickIndex)
	assert.Equal(t, 0, events[0].BeatInBar)
	assert.Equal(t, uint64(1), events[0].Bar)
}
