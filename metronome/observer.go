package metronome

import (
	"sync"

	"github.com/pulsekit/pulse/pitch"
	"github.com/pulsekit/pulse/rhythm"
)

// Observer receives engine events. Callbacks run on the scheduler or
// analysis timelines and must return quickly; hosts that need to block hand
// the event off to their own queue.
type Observer interface {
	// OnBeat fires for every on-beat tick in dispatch order.
	OnBeat(bar uint64, beat int, accent bool, absoluteAudioTime float64)

	// OnSubdivision fires for subdivision ticks (index >= 1 within the beat).
	OnSubdivision(index int)

	// OnStateChange fires after every authoritative config or transport
	// mutation.
	OnStateChange(cfg rhythm.Config, playing bool)

	// OnPitch fires for every validated tuner detection.
	OnPitch(reading pitch.Reading, note pitch.Note, cents float64, accuracy pitch.Accuracy)
}

// ObserverFuncs adapts bare functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	Beat        func(bar uint64, beat int, accent bool, absoluteAudioTime float64)
	Subdivision func(index int)
	StateChange func(cfg rhythm.Config, playing bool)
	Pitch       func(reading pitch.Reading, note pitch.Note, cents float64, accuracy pitch.Accuracy)
}

func (o ObserverFuncs) OnBeat(bar uint64, beat int, accent bool, absoluteAudioTime float64) {
	if o.Beat != nil {
		o.Beat(bar, beat, accent, absoluteAudioTime)
	}
}

func (o ObserverFuncs) OnSubdivision(index int) {
	if o.Subdivision != nil {
		o.Subdivision(index)
	}
}

func (o ObserverFuncs) OnStateChange(cfg rhythm.Config, playing bool) {
	if o.StateChange != nil {
		o.StateChange(cfg, playing)
	}
}

func (o ObserverFuncs) OnPitch(reading pitch.Reading, note pitch.Note, cents float64, accuracy pitch.Accuracy) {
	if o.Pitch != nil {
		o.Pitch(reading, note, cents, accuracy)
	}
}

// notifier fans events out to registered observers.
type notifier struct {
	mu        sync.RWMutex
	observers []Observer
}

func (n *notifier) register(o Observer) {
	n.mu.Lock()
	n.observers = append(n.observers, o)
	n.mu.Unlock()
}

func (n *notifier) each(fn func(Observer)) {
	n.mu.RLock()
	obs := n.observers
	n.mu.RUnlock()
	for _, o := range obs {
		fn(o)
	}
}
