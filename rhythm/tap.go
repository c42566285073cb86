package rhythm

import (
	"math"
	"time"
)

// Tap history bounds: up to four taps, each no older than two seconds.
const (
	tapHistorySize = 4
	tapMaxAge      = 2 * time.Second
)

// TapTempo estimates a tempo from the mean interval of recent taps. Taps
// measure human gestures, so they are stamped with wall time by the caller;
// scheduling stays on the monotonic clock and never reads tap instants.
type TapTempo struct {
	taps []time.Time
}

// NewTapTempo returns an empty estimator.
func NewTapTempo() *TapTempo {
	return &TapTempo{taps: make([]time.Time, 0, tapHistorySize)}
}

// Tap records a tap at now and returns the estimated BPM clamped into
// [MinBPM, MaxBPM]. With fewer than two live taps there is no estimate and
// ok is false.
func (t *TapTempo) Tap(now time.Time) (bpm int, ok bool) {
	live := t.taps[:0]
	for _, at := range t.taps {
		if now.Sub(at) <= tapMaxAge {
			live = append(live, at)
		}
	}
	t.taps = live
	if len(t.taps) == tapHistorySize {
		copy(t.taps, t.taps[1:])
		t.taps = t.taps[:tapHistorySize-1]
	}
	t.taps = append(t.taps, now)

	if len(t.taps) < 2 {
		return 0, false
	}
	var total time.Duration
	for i := 1; i < len(t.taps); i++ {
		total += t.taps[i].Sub(t.taps[i-1])
	}
	meanMs := total.Seconds() * 1000 / float64(len(t.taps)-1)
	if meanMs <= 0 {
		return 0, false
	}
	return ClampBPM(int(math.Round(60000 / meanMs))), true
}

// Reset clears the tap history.
func (t *TapTempo) Reset() {
	t.taps = t.taps[:0]
}
