package rhythm

import (
	"math"
	"time"
)

// EngineState tracks the scheduler lifecycle: Idle until armed, Armed until
// the first Tick call, Running until disarmed.
type EngineState int

const (
	EngineIdle EngineState = iota
	EngineArmed
	EngineRunning
)

func (s EngineState) String() string {
	switch s {
	case EngineArmed:
		return "armed"
	case EngineRunning:
		return "running"
	default:
		return "idle"
	}
}

// Event is one due tick. Time is the absolute monotonic instant the tick was
// scheduled for, which can be earlier than the Tick(now) call that yielded it.
type Event struct {
	Time        time.Time
	TickIndex   uint64
	Bar         uint64
	BeatInBar   int
	SubdivIndex int
	OnBeat      bool
	Accent      bool
}

// Engine emits beat and subdivision events on an absolute-time grid. A tick's
// scheduled time is always anchor + index*interval, so scheduled times never
// drift no matter how irregularly Tick is called.
//
// The engine is pure computation and carries no locking; the orchestrator
// serializes access from its scheduler timeline. Callers must pass a
// monotonic, non-decreasing now.
type Engine struct {
	state    EngineState
	cfg      Config
	anchor   time.Time
	interval time.Duration
	next     uint64
}

// NewEngine returns an idle engine.
func NewEngine() *Engine {
	return &Engine{}
}

// State returns the lifecycle state.
func (e *Engine) State() EngineState {
	return e.state
}

// Config returns the snapshot the grid is currently built from.
func (e *Engine) Config() Config {
	return e.cfg
}

// Arm sets the tick grid so that tick 0 occurs exactly at anchor.
func (e *Engine) Arm(cfg Config, anchor time.Time) {
	e.cfg = cfg.Normalized()
	e.anchor = anchor
	e.interval = e.cfg.TickInterval()
	e.next = 0
	e.state = EngineArmed
}

// Disarm returns the engine to idle and forgets the grid.
func (e *Engine) Disarm() {
	e.state = EngineIdle
	e.next = 0
}

// scheduled returns the absolute time of tick k.
func (e *Engine) scheduled(k uint64) time.Time {
	return e.anchor.Add(time.Duration(k) * e.interval)
}

// NextTickTime returns the scheduled time of the next tick, or false when the
// engine is idle.
func (e *Engine) NextTickTime() (time.Time, bool) {
	if e.state == EngineIdle {
		return time.Time{}, false
	}
	return e.scheduled(e.next), true
}

// Tick appends every event whose scheduled time is at or before now to out
// and returns the extended slice. Events are yielded strictly in index order;
// after a stall all overdue ticks are yielded, never coalesced. Passing a
// slice with spare capacity keeps the hot path allocation-free.
func (e *Engine) Tick(now time.Time, out []Event) []Event {
	if e.state == EngineIdle {
		return out
	}
	e.state = EngineRunning
	for !e.scheduled(e.next).After(now) {
		out = append(out, e.eventAt(e.next))
		e.next++
	}
	return out
}

// eventAt derives the musical position of tick k from the absolute index.
func (e *Engine) eventAt(k uint64) Event {
	divisor := uint64(e.cfg.Subdivision.Divisor())
	perBar := uint64(e.cfg.TicksPerBar())
	beat := int((k % perBar) / divisor)
	sub := int(k % divisor)
	onBeat := sub == 0
	return Event{
		Time:        e.scheduled(k),
		TickIndex:   k,
		Bar:         k / perBar,
		BeatInBar:   beat,
		SubdivIndex: sub,
		OnBeat:      onBeat,
		Accent:      onBeat && e.cfg.Accents[beat],
	}
}

// Reconfigure swaps the configuration without losing phase. The elapsed
// position is measured in beats at now and the anchor is recomputed so the
// same fraction of the current tick remains under the new grid:
//
//	anchor' = now - elapsedTicks * newInterval
//
// Ticks already past now are dropped silently. Legal while armed or running;
// a reconfigure on an idle engine only updates the stored config.
func (e *Engine) Reconfigure(cfg Config, now time.Time) {
	cfg = cfg.Normalized()
	if e.state == EngineIdle {
		e.cfg = cfg
		e.interval = cfg.TickInterval()
		return
	}

	oldDivisor := float64(e.cfg.Subdivision.Divisor())
	newDivisor := float64(cfg.Subdivision.Divisor())
	newInterval := cfg.TickInterval()

	elapsedOld := float64(now.Sub(e.anchor)) / float64(e.interval)
	if elapsedOld <= 0 {
		// Armed with a future (or exactly current) anchor: tick 0 has not
		// happened, so it stays where it was.
		e.cfg = cfg
		e.interval = newInterval
		e.next = 0
		return
	}
	elapsedNew := elapsedOld * newDivisor / oldDivisor

	e.cfg = cfg
	e.interval = newInterval
	e.anchor = now.Add(-time.Duration(elapsedNew * float64(newInterval)))
	e.next = uint64(math.Floor(elapsedNew)) + 1
}

// Resync silently advances the grid past now without emitting the missed
// ticks. The anchor is untouched, so the absolute bar grid (and intra-beat
// phase) is preserved; used when resuming from a suspension.
func (e *Engine) Resync(now time.Time) {
	if e.state == EngineIdle {
		return
	}
	for !e.scheduled(e.next).After(now) {
		e.next++
	}
}
