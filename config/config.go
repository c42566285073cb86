// Package config holds the engine-wide tunables. A single EngineConfig is
// built at startup and handed to the orchestrator; nothing reads globals.
package config

import (
	"time"
)

// EngineConfig collects the operational parameters of the timing and tuner
// pipelines. Defaults are tuned for sub-millisecond click placement with a
// comfortable safety margin over callback jitter.
type EngineConfig struct {
	// SampleRate for click synthesis, playback and capture.
	SampleRate int

	// SchedulerCadence is how often the lookahead loop wakes.
	SchedulerCadence time.Duration

	// LookaheadWindow is how far ahead of the device clock clicks are
	// primed. Callback jitter below this window cannot disturb timing.
	LookaheadWindow time.Duration

	// AnalysisBlockSize is the pitch-detection window in samples.
	AnalysisBlockSize int

	// ReferencePitch is the tuner's A4 in Hz.
	ReferencePitch float64

	// InTuneCents / CloseCents are the tuning accuracy buckets.
	InTuneCents float64
	CloseCents  float64

	// HapticEnabled gates the haptic engine.
	HapticEnabled bool
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SampleRate:        44100,
		SchedulerCadence:  25 * time.Millisecond,
		LookaheadWindow:   100 * time.Millisecond,
		AnalysisBlockSize: 4096,
		ReferencePitch:    440,
		InTuneCents:       5,
		CloseCents:        20,
		HapticEnabled:     true,
	}
}
