// Package haptic plays transient feedback patterns correlated to beat and
// tuner events. Hardware sits behind the Driver interface; without a driver
// every call is a no-op so the metronome never depends on haptics being
// present.
package haptic

import (
	"context"
	"sync"
	"time"

	"github.com/fogleman/ease"
	"github.com/pkg/errors"

	"github.com/pulsekit/pulse/clock"
	"github.com/pulsekit/pulse/logger"
)

// ErrHapticUnavailable reports that the driver could not be prepared.
var ErrHapticUnavailable = errors.New("haptic hardware unavailable")

// Kind selects a transient pattern.
type Kind int

const (
	KindAccent Kind = iota
	KindNormal
	KindSubdivision
	KindGhost
	KindInTune
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindAccent:
		return "accent"
	case KindNormal:
		return "normal"
	case KindSubdivision:
		return "subdivision"
	case KindGhost:
		return "ghost"
	case KindInTune:
		return "in_tune"
	default:
		return "unknown"
	}
}

// TransientDuration is the engine's internal pattern length. It is unrelated
// to the audible click durations.
const TransientDuration = 50 * time.Millisecond

// Accent reinforcement: a trailing transient 25 ms after the main one.
const (
	reinforcementDelay = 25 * time.Millisecond
	reinforcementGain  = 0.6
)

// InTune triggers are gated to at most one per half second.
const inTuneMinGap = 500 * time.Millisecond

// params is the fixed (intensity, sharpness) pair per kind.
type params struct {
	intensity float64
	sharpness float64
}

var kindParams = [numKinds]params{
	KindAccent:      {intensity: 1.0, sharpness: 0.9},
	KindNormal:      {intensity: 0.7, sharpness: 0.6},
	KindSubdivision: {intensity: 0.4, sharpness: 0.4},
	KindGhost:       {intensity: 0.25, sharpness: 0.2},
	KindInTune:      {intensity: 0.8, sharpness: 1.0},
}

// Driver receives transient commands. Implementations talk to platform
// haptic hardware; the zero driver is absent hardware.
type Driver interface {
	// Transient fires one haptic event.
	Transient(intensity, sharpness float64, duration time.Duration) error
}

// Engine schedules transients against the beat pipeline. Play never blocks
// the scheduler timeline: commands go through a bounded channel to a worker
// goroutine that also handles the delayed accent reinforcement.
type Engine struct {
	driver Driver
	clk    clock.Source

	commands chan command

	mu         sync.Mutex
	prepared   bool
	lastInTune time.Time
	hasInTune  bool
}

type command struct {
	p         params
	reinforce bool
}

// NewEngine wraps a driver. A nil driver is legal and makes every call a
// no-op.
func NewEngine(driver Driver, clk clock.Source) *Engine {
	return &Engine{
		driver:   driver,
		clk:      clk,
		commands: make(chan command, 64),
	}
}

// Prepare readies the hardware. Without a driver it reports
// ErrHapticUnavailable but the engine stays usable as a no-op.
func (e *Engine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.driver == nil {
		return ErrHapticUnavailable
	}
	e.prepared = true
	return nil
}

// Release drops the prepared state.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prepared = false
}

// Play fires the pattern for a kind. InTune triggers closer than 500 ms to
// the previous one are dropped; other kinds are not rate-limited, the caller
// stays within the tick rate. Calls without prepared hardware are no-ops.
func (e *Engine) Play(kind Kind) {
	if kind < 0 || kind >= numKinds {
		return
	}

	e.mu.Lock()
	if !e.prepared || e.driver == nil {
		e.mu.Unlock()
		return
	}
	if kind == KindInTune {
		now := e.clk.Now()
		if e.hasInTune && now.Sub(e.lastInTune) < inTuneMinGap {
			e.mu.Unlock()
			return
		}
		e.lastInTune = now
		e.hasInTune = true
	}
	e.mu.Unlock()

	select {
	case e.commands <- command{p: kindParams[kind], reinforce: kind == KindAccent}:
	default:
		// Worker backlog: drop rather than stall the beat pipeline.
	}
}

// Run executes transients until the context is done. The accent
// reinforcement fires 25 ms after the main transient.
func (e *Engine) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	log := logger.GetProjectLogger()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.commands:
			if err := e.driver.Transient(cmd.p.intensity, cmd.p.sharpness, TransientDuration); err != nil {
				log.WithField("err", err).Debug("haptic transient failed")
				continue
			}
			if !cmd.reinforce {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-e.clk.After(reinforcementDelay):
			}
			if err := e.driver.Transient(cmd.p.intensity*reinforcementGain, cmd.p.sharpness, TransientDuration); err != nil {
				log.WithField("err", err).Debug("haptic reinforcement failed")
			}
		}
	}
}

// Envelope samples the amplitude curve of a kind's transient into n points:
// a sharpness-scaled attack into an exponential decay. Drivers that take
// sampled envelopes rather than (intensity, sharpness) pairs use this.
func Envelope(kind Kind, n int) []float64 {
	if kind < 0 || kind >= numKinds || n <= 0 {
		return nil
	}
	p := kindParams[kind]
	out := make([]float64, n)

	// Sharper transients spend less of the pattern on the attack ramp.
	attack := (1 - p.sharpness) * 0.25
	if attack < 0.02 {
		attack = 0.02
	}
	if n > 1 {
		// End the attack on a sample so the sampled curve reaches the full
		// intensity.
		steps := float64(n - 1)
		attack = float64(int(attack*steps+0.5)) / steps
	}
	for i := range out {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		if t < attack {
			out[i] = p.intensity * ease.OutQuad(t/attack)
		} else {
			out[i] = p.intensity * (1 - ease.OutExpo((t-attack)/(1-attack)))
		}
	}
	return out
}
