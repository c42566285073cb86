package metronome

import (
	"context"
	"time"

	"github.com/pulsekit/pulse/audio"
	"github.com/pulsekit/pulse/clock"
	"github.com/pulsekit/pulse/haptic"
	"github.com/pulsekit/pulse/rhythm"
)

// runScheduler is the real-time timeline: it wakes every cadence, primes
// every click inside the lookahead window and dispatches haptic and observer
// events whose absolute time has arrived. Teardown runs one final iteration
// so due events are not lost on Stop.
func (m *Metronome) runScheduler(ctx context.Context) {
	ticker := m.clk.NewTicker(m.engCfg.SchedulerCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.step()
			return
		case <-ticker.C():
			m.step()
		}
	}
}

// step runs one lookahead iteration. The engine and queues are touched under
// the state mutex; haptic triggers and observer callbacks run outside it.
// stepMu serializes whole iterations so the dispatch scratch is never shared
// between overlapping calls.
func (m *Metronome) step() {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	m.mu.Lock()
	if !m.playing || m.suspended {
		m.mu.Unlock()
		return
	}

	now := m.clk.Now()
	horizon := now.Add(m.engCfg.LookaheadWindow)

	// A transport that lost its device keeps ticking; the device is retried
	// once a second until it comes back.
	if !m.audioOK && !now.Before(m.audioRetryAt) {
		m.audioRetryAt = now.Add(time.Second)
		if err := m.out.Open(m.engCfg.SampleRate); err == nil {
			m.audioEpoch = now.Add(-time.Duration(m.out.AudioClockNow() * float64(time.Second)))
			m.audioOK = true
		}
	}

	// Pull every tick scheduled inside the window and prime its click.
	m.scratch = m.engine.Tick(horizon, m.scratch[:0])
	for _, ev := range m.scratch {
		m.primeClick(ev)
		m.pending = append(m.pending, ev)
	}

	// Collect the events whose time has arrived. Half a cadence of slack
	// centers the dispatch error around the true beat instant.
	cut := now.Add(m.engCfg.SchedulerCadence / 2)
	n := 0
	for n < len(m.pending) && !m.pending[n].Time.After(cut) {
		n++
	}
	m.dispatch = append(m.dispatch[:0], m.pending[:n]...)
	m.pending = m.pending[:copy(m.pending, m.pending[n:])]

	if n > 0 {
		last := m.dispatch[n-1]
		m.state.CurrentBar = last.Bar
		m.state.CurrentBeatInBar = last.BeatInBar
		m.state.CurrentSubdivIndex = last.SubdivIndex
		m.state.NextTickIndex = last.TickIndex + 1
	}
	m.mu.Unlock()

	for _, ev := range m.dispatch {
		m.deliver(ev)
	}
}

// primeClick enqueues the audio click for a tick. Called with m.mu held.
func (m *Metronome) primeClick(ev rhythm.Event) {
	if !m.audioOK {
		return
	}
	var kind audio.ClickKind
	switch {
	case ev.OnBeat && ev.Accent:
		kind = audio.ClickAccent
	case ev.OnBeat:
		kind = audio.ClickNormal
	default:
		kind = audio.ClickSubdivision
	}
	if err := m.out.ScheduleClick(kind, m.toAudioTime(ev.Time)); err != nil {
		m.audioOK = false
	}
}

// deliver fires haptics and observers for one due event, preserving tick
// order. Subdivision index 0 never reaches here: the engine emits the
// on-beat event for that index, so the on-beat/subdivision suppression holds
// by construction.
func (m *Metronome) deliver(ev rhythm.Event) {
	if ev.OnBeat {
		if ev.Accent {
			m.hap.Play(haptic.KindAccent)
		} else {
			m.hap.Play(haptic.KindNormal)
		}
		at := m.toAudioTime(ev.Time)
		m.notifier.each(func(o Observer) { o.OnBeat(ev.Bar, ev.BeatInBar, ev.Accent, at) })
		return
	}
	m.hap.Play(haptic.KindSubdivision)
	m.notifier.each(func(o Observer) { o.OnSubdivision(ev.SubdivIndex) })
}

// toAudioTime converts a monotonic instant into device-clock seconds.
func (m *Metronome) toAudioTime(t time.Time) float64 {
	return clock.SecondsBetween(m.audioEpoch, t)
}
