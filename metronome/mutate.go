package metronome

import (
	"github.com/pulsekit/pulse/logger"
	"github.com/pulsekit/pulse/peersync"
	"github.com/pulsekit/pulse/preset"
	"github.com/pulsekit/pulse/rhythm"
)

// mutate applies an authoritative config change. resetGrid re-arms the
// engine (bar/beat counters restart); otherwise the engine reconfigures in
// place and preserves intra-beat phase. broadcast=false is used when the
// change came from the peer and must not echo.
func (m *Metronome) mutate(resetGrid, broadcast bool, fn func(rhythm.Config) rhythm.Config) {
	m.mu.Lock()
	m.cfg = fn(m.cfg).Normalized()
	if m.playing {
		now := m.clk.Now()
		if resetGrid {
			m.engine.Arm(m.cfg, now)
			m.state.CurrentBar = 0
			m.state.CurrentBeatInBar = 0
			m.state.CurrentSubdivIndex = 0
			m.state.NextTickIndex = 0
			m.state.Anchor = now
			m.pending = m.pending[:0]
		} else {
			m.engine.Reconfigure(m.cfg, now)
		}
	}
	cfg, playing := m.cfg, m.playing
	m.mu.Unlock()
	m.publishStateChange(cfg, playing, broadcast)
}

// SetBPM stores a clamped tempo. Mid-playback the grid keeps its phase: the
// next tick lands after the remaining fraction of the current tick, scaled
// to the new interval.
func (m *Metronome) SetBPM(bpm int) {
	m.mutate(false, true, func(c rhythm.Config) rhythm.Config {
		c.BPM = rhythm.ClampBPM(bpm)
		return c
	})
}

// IncrementBPM bumps the tempo by one.
func (m *Metronome) IncrementBPM() {
	m.SetBPM(m.Config().BPM + 1)
}

// DecrementBPM drops the tempo by one.
func (m *Metronome) DecrementBPM() {
	m.SetBPM(m.Config().BPM - 1)
}

// SetTimeSignature replaces the signature, resizes the accent pattern and
// resets the bar/beat counters.
func (m *Metronome) SetTimeSignature(ts rhythm.TimeSignature) {
	m.mutate(true, true, func(c rhythm.Config) rhythm.Config {
		c.TimeSignature = ts
		c.Accents = c.Accents.Resize(ts.BeatsPerBar)
		return c
	})
}

// SetAccent assigns one beat of the accent pattern. The pattern never goes
// all-false: clearing the last accent re-asserts beat zero.
func (m *Metronome) SetAccent(index int, accented bool) {
	m.mutate(false, true, func(c rhythm.Config) rhythm.Config {
		c.Accents = c.Accents.Set(index, accented)
		return c
	})
}

// ToggleAccent flips one beat of the accent pattern under the same
// invariant.
func (m *Metronome) ToggleAccent(index int) {
	m.mutate(false, true, func(c rhythm.Config) rhythm.Config {
		c.Accents = c.Accents.Toggle(index)
		return c
	})
}

// ApplyAccentPreset resolves a preset against the current bar length.
func (m *Metronome) ApplyAccentPreset(p rhythm.AccentPreset) {
	m.mutate(false, true, func(c rhythm.Config) rhythm.Config {
		c.Accents = p.Pattern(c.TimeSignature.BeatsPerBar)
		return c
	})
}

// SetSubdivision changes the tick divisor, preserving the position inside
// the current beat.
func (m *Metronome) SetSubdivision(s rhythm.Subdivision) {
	m.mutate(false, true, func(c rhythm.Config) rhythm.Config {
		c.Subdivision = s
		return c
	})
}

// ApplyPreset loads a stored preset wholesale and restarts the bar.
func (m *Metronome) ApplyPreset(p *preset.Preset) {
	cfg := p.Config()
	m.mutate(true, true, func(rhythm.Config) rhythm.Config {
		return cfg
	})
}

// ResetToDefaults restores 120 BPM, 4/4, standard accents.
func (m *Metronome) ResetToDefaults() {
	m.mutate(true, true, func(rhythm.Config) rhythm.Config {
		return rhythm.DefaultConfig()
	})
}

// Tap feeds the tap-tempo estimator with the current wall-clock instant and
// applies the estimate once two taps are live. Tap instants measure a human
// gesture and deliberately use wall time; scheduling never reads them.
func (m *Metronome) Tap() {
	if bpm, ok := m.tap.Tap(m.wall.Now()); ok {
		m.SetBPM(bpm)
	}
}

// SyncSnapshot implements peersync.Peer.
func (m *Metronome) SyncSnapshot() (rhythm.Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, m.playing
}

// ApplySyncSnapshot implements peersync.Peer: a winning remote snapshot
// replaces the config wholesale and aligns the transport, without echoing a
// broadcast back.
func (m *Metronome) ApplySyncSnapshot(cfg rhythm.Config, playing bool) {
	m.mutate(false, false, func(rhythm.Config) rhythm.Config {
		return cfg
	})
	if playing != m.Playing() {
		if playing {
			if err := m.start(false); err != nil {
				logger.GetProjectLogger().WithField("err", err).Warn("remote start")
			}
		} else {
			m.stop(false)
		}
	}
}

// ApplySyncCommand implements peersync.Peer: remote commands behave exactly
// like local user actions, so they re-broadcast a fresh snapshot.
func (m *Metronome) ApplySyncCommand(cmd peersync.Command) {
	switch cmd {
	case peersync.CommandPlay:
		if err := m.Start(); err != nil {
			logger.GetProjectLogger().WithField("err", err).Warn("remote play")
		}
	case peersync.CommandStop:
		m.Stop()
	case peersync.CommandToggle:
		m.Toggle()
	case peersync.CommandIncrementBPM:
		m.IncrementBPM()
	case peersync.CommandDecrementBPM:
		m.DecrementBPM()
	case peersync.CommandReset:
		m.ResetToDefaults()
	}
}
