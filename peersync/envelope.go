// Package peersync replicates metronome state between the primary and the
// wearable peer. Envelopes are JSON on the wire and ride an unordered
// at-most-once channel, so every envelope carries a revision and a sender
// timestamp and the receiver resolves conflicts deterministically.
package peersync

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/pulsekit/pulse/rhythm"
)

// Envelope types.
const (
	TypeStateSync = "stateSync"
	TypeCommand   = "command"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Command is a remote user action, applied exactly like a local one.
type Command string

const (
	CommandPlay         Command = "play"
	CommandStop         Command = "stop"
	CommandToggle       Command = "toggle"
	CommandIncrementBPM Command = "incrementBPM"
	CommandDecrementBPM Command = "decrementBPM"
	CommandReset        Command = "resetToDefaults"
)

// Known reports whether the command is one this peer understands.
func (c Command) Known() bool {
	switch c {
	case CommandPlay, CommandStop, CommandToggle, CommandIncrementBPM, CommandDecrementBPM, CommandReset:
		return true
	default:
		return false
	}
}

// Snapshot is the full replicated state.
type Snapshot struct {
	BPM                int    `json:"bpm"`
	IsPlaying          bool   `json:"isPlaying"`
	TimeSignatureBeats int    `json:"timeSignatureBeats"`
	TimeSignatureUnit  int    `json:"timeSignatureUnit"`
	AccentPattern      []bool `json:"accentPattern"`
	SubdivisionEnabled bool   `json:"subdivisionEnabled"`
	SubdivisionType    int    `json:"subdivisionType"`
}

// SnapshotOf captures a config and playing flag.
func SnapshotOf(cfg rhythm.Config, playing bool) Snapshot {
	divisor := cfg.Subdivision.Divisor()
	if divisor < 2 {
		// The wire field is always one of 2|3|4; disabled snapshots carry
		// the default eighth so re-enabling round-trips.
		divisor = 2
	}
	return Snapshot{
		BPM:                cfg.BPM,
		IsPlaying:          playing,
		TimeSignatureBeats: cfg.TimeSignature.BeatsPerBar,
		TimeSignatureUnit:  cfg.TimeSignature.BeatUnit,
		AccentPattern:      append([]bool(nil), cfg.Accents...),
		SubdivisionEnabled: cfg.Subdivision.Enabled(),
		SubdivisionType:    divisor,
	}
}

// Config rebuilds the metronome config the snapshot describes.
func (s Snapshot) Config() rhythm.Config {
	sub := rhythm.SubdivisionNone
	if s.SubdivisionEnabled {
		sub = rhythm.SubdivisionFromDivisor(s.SubdivisionType)
	}
	return rhythm.Config{
		BPM: s.BPM,
		TimeSignature: rhythm.TimeSignature{
			BeatsPerBar: s.TimeSignatureBeats,
			BeatUnit:    s.TimeSignatureUnit,
		},
		Accents:     rhythm.AccentPattern(append([]bool(nil), s.AccentPattern...)),
		Subdivision: sub,
	}.Normalized()
}

// Envelope is one sync message. Timestamp is seconds since the Unix epoch at
// the sender.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp float64   `json:"timestamp"`
	Revision  uint64    `json:"revision"`
	State     *Snapshot `json:"state,omitempty"`
	Command   Command   `json:"command,omitempty"`
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encoding sync envelope")
	}
	return data, nil
}

// DecodeEnvelope parses a wire payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, errors.Wrap(err, "decoding sync envelope")
	}
	return e, nil
}
