// Package metronome is the orchestrator: it owns the authoritative config
// and playback state, drives the timing engine from the lookahead loop and
// fans beat events out to audio, haptics, observers and the paired peer.
package metronome

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pulsekit/pulse/audio"
	"github.com/pulsekit/pulse/clock"
	"github.com/pulsekit/pulse/config"
	"github.com/pulsekit/pulse/haptic"
	"github.com/pulsekit/pulse/logger"
	"github.com/pulsekit/pulse/peersync"
	"github.com/pulsekit/pulse/pitch"
	"github.com/pulsekit/pulse/rhythm"
)

// AudioSink is what the orchestrator needs from the playback layer.
// *audio.Output satisfies it; tests substitute a recorder.
type AudioSink interface {
	Open(sampleRate int) error
	ScheduleClick(kind audio.ClickKind, audioTime float64) error
	AudioClockNow() float64
	Suspend()
	Resume()
	Drain()
	Close() error
}

// PlaybackState mirrors the engine's position for hosts. It is owned by the
// orchestrator and mutated only from timing-engine events.
type PlaybackState struct {
	Playing            bool
	CurrentBar         uint64
	CurrentBeatInBar   int
	CurrentSubdivIndex int
	Anchor             time.Time
	NextTickIndex      uint64
}

// Metronome glues the subsystems together. All control methods are safe for
// concurrent use; the scheduler timeline reads a coherent config snapshot
// per tick and never blocks on writers beyond the short state mutex.
type Metronome struct {
	engCfg config.EngineConfig
	clk    clock.Source
	wall   clock.PassiveSource
	out    AudioSink
	hap    *haptic.Engine

	notifier notifier
	tap      *rhythm.TapTempo

	mu        sync.Mutex
	cfg       rhythm.Config
	engine    *rhythm.Engine
	state     PlaybackState
	playing   bool
	audioOK   bool
	suspended bool
	keepAlive bool

	// audioEpoch maps monotonic instants onto the device clock:
	// audioTime(t) = t - audioEpoch, in seconds. Calibrated at Start and on
	// device reacquisition.
	audioEpoch   time.Time
	audioRetryAt time.Time

	stepMu   sync.Mutex
	pending  []rhythm.Event
	scratch  []rhythm.Event
	dispatch []rhythm.Event

	cancel context.CancelFunc
	group  *errgroup.Group

	hapticDriver  haptic.Driver
	captureOpener CaptureOpener
	classifier    *pitch.Classifier

	syncMu sync.Mutex
	syncer *peersync.Syncer

	tuner *tunerSession
}

// Option customizes construction.
type Option func(*Metronome)

// WithClock injects the scheduling clock (tests use a fake).
func WithClock(c clock.Source) Option {
	return func(m *Metronome) { m.clk = c }
}

// WithWallClock injects the wall clock used for tap tempo.
func WithWallClock(c clock.PassiveSource) Option {
	return func(m *Metronome) { m.wall = c }
}

// WithAudioSink injects the playback layer.
func WithAudioSink(s AudioSink) Option {
	return func(m *Metronome) { m.out = s }
}

// WithHapticDriver injects the haptic hardware driver.
func WithHapticDriver(d haptic.Driver) Option {
	return func(m *Metronome) { m.hapticDriver = d }
}

// WithCaptureOpener injects the tuner's capture acquisition.
func WithCaptureOpener(o CaptureOpener) Option {
	return func(m *Metronome) { m.captureOpener = o }
}

// New builds an orchestrator with the default config (120 BPM, 4/4).
func New(engCfg config.EngineConfig, opts ...Option) *Metronome {
	m := &Metronome{
		engCfg: engCfg,
		cfg:    rhythm.DefaultConfig(),
		engine: rhythm.NewEngine(),
		tap:    rhythm.NewTapTempo(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clk == nil {
		m.clk = clock.Real()
	}
	if m.wall == nil {
		m.wall = m.clk
	}
	if m.out == nil {
		m.out = audio.NewOutput()
	}
	m.hap = haptic.NewEngine(m.hapticDriver, m.clk)
	return m
}

// Register subscribes an observer for the lifetime of the orchestrator.
func (m *Metronome) Register(o Observer) {
	m.notifier.register(o)
}

// AttachSyncer connects the peer replication component. The syncer calls
// back through the peersync.Peer interface implemented below.
func (m *Metronome) AttachSyncer(s *peersync.Syncer) {
	m.syncMu.Lock()
	m.syncer = s
	m.syncMu.Unlock()
}

// Config returns a snapshot of the authoritative configuration.
func (m *Metronome) Config() rhythm.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// State returns a snapshot of the playback state.
func (m *Metronome) State() PlaybackState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Playing reports whether the transport is running.
func (m *Metronome) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Start arms the engine at the current instant and launches the scheduler
// timeline. A playback-device failure does not prevent the start: the
// metronome runs on haptics and observers alone, and the wrapped
// ErrAudioUnavailable is returned so the host can surface it.
func (m *Metronome) Start() error {
	return m.start(true)
}

func (m *Metronome) start(broadcast bool) error {
	m.mu.Lock()
	if m.playing {
		m.mu.Unlock()
		return nil
	}

	log := logger.GetProjectLogger()

	var startErr error
	if err := m.out.Open(m.engCfg.SampleRate); err != nil {
		m.audioOK = false
		m.audioRetryAt = m.clk.Now().Add(time.Second)
		startErr = err
		log.WithField("err", err).Warn("starting without audio output")
	} else {
		m.audioOK = true
	}

	if m.engCfg.HapticEnabled {
		if err := m.hap.Prepare(); err != nil && !errors.Is(err, haptic.ErrHapticUnavailable) {
			log.WithField("err", err).Warn("haptic prepare failed")
		}
	}

	anchor := m.clk.Now()
	if m.audioOK {
		m.audioEpoch = anchor.Add(-time.Duration(m.out.AudioClockNow() * float64(time.Second)))
	}
	m.engine.Arm(m.cfg, anchor)
	m.state = PlaybackState{Playing: true, Anchor: anchor}
	m.playing = true
	m.suspended = false
	m.pending = m.pending[:0]

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.group, ctx = errgroup.WithContext(ctx)
	m.group.Go(func() error {
		m.runScheduler(ctx)
		return nil
	})
	m.group.Go(func() error {
		var wg sync.WaitGroup
		wg.Add(1)
		m.hap.Run(ctx, &wg)
		return nil
	})
	cfg := m.cfg
	m.mu.Unlock()

	log.WithFields(logrus.Fields{"bpm": cfg.BPM, "signature": cfg.TimeSignature}).Info("metronome started")
	m.publishStateChange(cfg, true, broadcast)
	return startErr
}

// Stop tears the scheduler timeline down synchronously: it waits for the
// final loop iteration, drains the click queue and releases the devices.
func (m *Metronome) Stop() {
	m.stop(true)
}

func (m *Metronome) stop(broadcast bool) {
	m.mu.Lock()
	if !m.playing {
		m.mu.Unlock()
		return
	}
	m.playing = false
	cancel := m.cancel
	group := m.group
	m.mu.Unlock()

	cancel()
	_ = group.Wait()

	m.mu.Lock()
	m.engine.Disarm()
	m.state = PlaybackState{}
	m.pending = m.pending[:0]
	if m.audioOK {
		m.out.Drain()
		if err := m.out.Close(); err != nil {
			logger.GetProjectLogger().WithField("err", err).Warn("closing audio output")
		}
		m.audioOK = false
	}
	m.hap.Release()
	cfg := m.cfg
	m.mu.Unlock()

	logger.GetProjectLogger().Info("metronome stopped")
	m.publishStateChange(cfg, false, broadcast)
}

// Toggle starts when stopped and stops when playing.
func (m *Metronome) Toggle() {
	if m.Playing() {
		m.Stop()
	} else {
		if err := m.Start(); err != nil {
			logger.GetProjectLogger().WithField("err", err).Warn("toggle start")
		}
	}
}

// SetKeepAlive marks the background keep-alive capability (wearable only).
// With it set, hiding the process does not pause the scheduler.
func (m *Metronome) SetKeepAlive(v bool) {
	m.mu.Lock()
	m.keepAlive = v
	m.mu.Unlock()
}

// Hidden handles the process moving to the background. Without a keep-alive
// capability the audio device suspends and beat dispatch pauses; the tick
// grid itself is left untouched so resuming stays bar-aligned.
func (m *Metronome) Hidden() {
	m.mu.Lock()
	if !m.playing || m.keepAlive {
		m.mu.Unlock()
		return
	}
	m.suspended = true
	m.pending = m.pending[:0]
	audioOK := m.audioOK
	m.mu.Unlock()
	if audioOK {
		m.out.Suspend()
	}
	logger.GetProjectLogger().Info("metronome suspended")
}

// Visible resumes after Hidden. Ticks that fell inside the suspension are
// skipped silently; the next dispatched beat lands on the original absolute
// grid.
func (m *Metronome) Visible() {
	m.mu.Lock()
	if !m.playing || !m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = false
	m.engine.Resync(m.clk.Now())
	audioOK := m.audioOK
	m.mu.Unlock()
	if audioOK {
		m.out.Resume()
	}
	logger.GetProjectLogger().Info("metronome resumed")
}

// publishStateChange informs observers and, when broadcast is set, the peer
// syncer. Applying a remote snapshot publishes without re-broadcasting.
func (m *Metronome) publishStateChange(cfg rhythm.Config, playing bool, broadcast bool) {
	m.notifier.each(func(o Observer) { o.OnStateChange(cfg, playing) })
	if !broadcast {
		return
	}
	m.syncMu.Lock()
	s := m.syncer
	m.syncMu.Unlock()
	if s != nil {
		s.LocalMutated(cfg, playing)
	}
}
