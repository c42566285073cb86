// Package clock provides the monotonic time source used by every scheduling
// component. It is a thin veneer over k8s.io/utils/clock so that tests can
// substitute a fake clock and step it deterministically.
package clock

import (
	"time"

	utilclock "k8s.io/utils/clock"
)

// Source is the monotonic clock injected into the engine. Instants returned
// by Now carry Go's monotonic reading, so subtraction is drift-safe.
type Source = utilclock.Clock

// PassiveSource is a read-only clock for components that never sleep or wait,
// such as the tap tempo estimator.
type PassiveSource = utilclock.PassiveClock

// Real returns the wall clock backed by the runtime's monotonic source.
func Real() Source {
	return utilclock.RealClock{}
}

// SecondsBetween returns the elapsed seconds from a to b.
func SecondsBetween(a, b time.Time) float64 {
	return b.Sub(a).Seconds()
}
