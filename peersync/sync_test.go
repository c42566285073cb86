package peersync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/pulsekit/pulse/rhythm"
)

// fakePeer is a minimal authoritative state holder.
type fakePeer struct {
	mu      sync.Mutex
	cfg     rhythm.Config
	playing bool
	syncer  *Syncer

	commands []Command
}

func newFakePeer() *fakePeer {
	return &fakePeer{cfg: rhythm.DefaultConfig()}
}

func (p *fakePeer) SyncSnapshot() (rhythm.Config, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, p.playing
}

func (p *fakePeer) ApplySyncSnapshot(cfg rhythm.Config, playing bool) {
	p.mu.Lock()
	p.cfg = cfg
	p.playing = playing
	p.mu.Unlock()
}

func (p *fakePeer) ApplySyncCommand(cmd Command) {
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	switch cmd {
	case CommandIncrementBPM:
		p.cfg.BPM = rhythm.ClampBPM(p.cfg.BPM + 1)
	case CommandDecrementBPM:
		p.cfg.BPM = rhythm.ClampBPM(p.cfg.BPM - 1)
	case CommandPlay:
		p.playing = true
	case CommandStop:
		p.playing = false
	case CommandToggle:
		p.playing = !p.playing
	case CommandReset:
		p.cfg = rhythm.DefaultConfig()
	}
	cfg, playing := p.cfg, p.playing
	p.mu.Unlock()
	if p.syncer != nil {
		p.syncer.LocalMutated(cfg, playing)
	}
}

// localEdit mirrors an orchestrator mutation: the peer's own state changes
// first, then the syncer broadcasts it.
func (p *fakePeer) localEdit(cfg rhythm.Config, playing bool) {
	p.mu.Lock()
	p.cfg = cfg
	p.playing = playing
	p.mu.Unlock()
	p.syncer.LocalMutated(cfg, playing)
}

func (p *fakePeer) commandCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commands)
}

func (p *fakePeer) bpm() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.BPM
}

func withBPM(bpm int) rhythm.Config {
	cfg := rhythm.DefaultConfig()
	cfg.BPM = bpm
	return cfg.Normalized()
}

// pair wires two peers over a loopback channel with independent clocks.
func pair(t *testing.T, atA, atB time.Time) (*fakePeer, *fakePeer, func()) {
	t.Helper()
	chA, chB := NewLoopbackPair()
	peerA, peerB := newFakePeer(), newFakePeer()
	peerA.syncer = NewSyncer(peerA, chA, clocktesting.NewFakePassiveClock(atA), nil)
	peerB.syncer = NewSyncer(peerB, chB, clocktesting.NewFakePassiveClock(atB), nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go peerA.syncer.Run(ctx, &wg)
	go peerB.syncer.Run(ctx, &wg)
	return peerA, peerB, func() {
		cancel()
		chA.Close()
		chB.Close()
		wg.Wait()
	}
}

func TestLocalMutationReplicates(t *testing.T) {
	t.Parallel()

	a, b, done := pair(t, time.Unix(10, 0), time.Unix(10, 0))
	defer done()

	a.syncer.LocalMutated(withBPM(150), false)
	require.Eventually(t, func() bool { return b.bpm() == 150 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), b.syncer.Revision())
}

func TestStaleSnapshotIsDropped(t *testing.T) {
	t.Parallel()

	a, b, done := pair(t, time.Unix(10, 0), time.Unix(10, 0))
	defer done()

	// Two local mutations put A at revision 2.
	a.syncer.LocalMutated(withBPM(150), false)
	a.syncer.LocalMutated(withBPM(155), false)
	require.Eventually(t, func() bool { return b.bpm() == 155 }, time.Second, time.Millisecond)

	// A revision-1 snapshot arriving late must not roll B back.
	stale := Envelope{Type: TypeStateSync, Timestamp: 5, Revision: 1}
	snap := SnapshotOf(withBPM(90), false)
	stale.State = &snap
	b.syncer.handle(stale)
	assert.Equal(t, 155, b.bpm())
}

func TestConcurrentEditsConvergeOnLaterTimestamp(t *testing.T) {
	t.Parallel()

	// Peer A edits at t=10.0, peer B at t=10.1; both carry revision 1.
	a, b, done := pair(t, time.Unix(10, 0), time.Unix(10, 100*int64(time.Millisecond)))
	defer done()

	a.localEdit(withBPM(150), false)
	b.localEdit(withBPM(160), false)

	// After the exchange both peers hold the later write.
	require.Eventually(t, func() bool { return a.bpm() == 160 && b.bpm() == 160 }, time.Second, time.Millisecond)
}

func TestExactTieDropsInbound(t *testing.T) {
	t.Parallel()

	a, _, done := pair(t, time.Unix(10, 0), time.Unix(10, 0))
	defer done()

	a.localEdit(withBPM(150), false)

	tie := Envelope{Type: TypeStateSync, Timestamp: 10, Revision: 1}
	snap := SnapshotOf(withBPM(90), false)
	tie.State = &snap
	a.syncer.handle(tie)
	assert.Equal(t, 150, a.bpm())
}

func TestCustomTieBreaker(t *testing.T) {
	t.Parallel()

	chA, _ := NewLoopbackPair()
	peer := newFakePeer()
	// Inverted rule: the inbound side always loses.
	s := NewSyncer(peer, chA, clocktesting.NewFakePassiveClock(time.Unix(10, 0)),
		func(uint64, float64, Envelope) bool { return false })

	env := Envelope{Type: TypeStateSync, Timestamp: 99, Revision: 99}
	snap := SnapshotOf(withBPM(90), false)
	env.State = &snap
	s.handle(env)
	assert.Equal(t, 120, peer.bpm())
}

func TestCommandAppliesAndRebroadcasts(t *testing.T) {
	t.Parallel()

	a, b, done := pair(t, time.Unix(10, 0), time.Unix(11, 0))
	defer done()

	cmd := Envelope{Type: TypeCommand, Timestamp: 10, Revision: 0, Command: CommandIncrementBPM}
	a.syncer.handle(cmd)

	require.Eventually(t, func() bool { return a.commandCount() == 1 }, time.Second, time.Millisecond)
	// The command mutated A, and A's fresh snapshot reached B.
	require.Eventually(t, func() bool { return b.bpm() == 121 }, time.Second, time.Millisecond)
}

func TestUnknownCommandIgnored(t *testing.T) {
	t.Parallel()

	a, _, done := pair(t, time.Unix(10, 0), time.Unix(10, 0))
	defer done()

	a.syncer.handle(Envelope{Type: TypeCommand, Command: Command("selfDestruct")})
	assert.Zero(t, a.commandCount())
}

func TestUnknownEnvelopeTypeIgnored(t *testing.T) {
	t.Parallel()

	a, _, done := pair(t, time.Unix(10, 0), time.Unix(10, 0))
	defer done()

	a.syncer.handle(Envelope{Type: "glitter", Timestamp: 99, Revision: 99})
	assert.Equal(t, uint64(0), a.syncer.Revision())
	assert.Equal(t, 120, a.bpm())
}

func TestPingAnsweredWithPong(t *testing.T) {
	t.Parallel()

	a, b, done := pair(t, time.Unix(10, 0), time.Unix(9, 0))
	defer done()

	a.localEdit(withBPM(180), true)
	require.Eventually(t, func() bool { return b.bpm() == 180 }, time.Second, time.Millisecond)

	// B reconnects later with empty state: a ping bootstraps it.
	bFresh := newFakePeer()
	chA2, chB2 := NewLoopbackPair()
	aSyncer := NewSyncer(a, chA2, clocktesting.NewFakePassiveClock(time.Unix(10, 0)), nil)
	bFresh.syncer = NewSyncer(bFresh, chB2, clocktesting.NewFakePassiveClock(time.Unix(9, 0)), nil)
	// Seed A's new syncer with its replicated context while the link is
	// down, so only the ping can deliver it to B.
	chA2.SetReachable(false)
	cfg, playing := a.SyncSnapshot()
	aSyncer.LocalMutated(cfg, playing)
	chA2.SetReachable(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go aSyncer.Run(ctx, &wg)
	go bFresh.syncer.Run(ctx, &wg)

	bFresh.syncer.Ping()
	require.Eventually(t, func() bool { return bFresh.bpm() == 180 }, time.Second, time.Millisecond)
	_, ok := bFresh.syncer.LastKnown()
	assert.True(t, ok)

	cancel()
	chA2.Close()
	chB2.Close()
	wg.Wait()
}

func TestLastKnownUpdatedWhileUnreachable(t *testing.T) {
	t.Parallel()

	chA, _ := NewLoopbackPair()
	chA.SetReachable(false)
	peer := newFakePeer()
	s := NewSyncer(peer, chA, clocktesting.NewFakePassiveClock(time.Unix(10, 0)), nil)

	s.LocalMutated(withBPM(222), false)
	assert.False(t, s.Reachable())

	env, ok := s.LastKnown()
	require.True(t, ok)
	require.NotNil(t, env.State)
	assert.Equal(t, 222, env.State.BPM)
	assert.Equal(t, uint64(1), env.Revision)
}

func TestEnvelopeWireFormat(t *testing.T) {
	t.Parallel()

	snap := SnapshotOf(withBPM(140), true)
	env := Envelope{Type: TypeStateSync, Timestamp: 12.5, Revision: 3, State: &snap}

	data, err := env.Encode()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "stateSync", raw["type"])
	assert.Equal(t, 12.5, raw["timestamp"])
	assert.Equal(t, float64(3), raw["revision"])

	state := raw["state"].(map[string]any)
	assert.Equal(t, float64(140), state["bpm"])
	assert.Equal(t, true, state["isPlaying"])
	assert.Equal(t, float64(4), state["timeSignatureBeats"])
	assert.Equal(t, float64(4), state["timeSignatureUnit"])
	assert.Len(t, state["accentPattern"].([]any), 4)
	assert.Equal(t, false, state["subdivisionEnabled"])
	assert.Contains(t, []any{float64(2), float64(3), float64(4)}, state["subdivisionType"])

	back, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.Revision, back.Revision)
	require.NotNil(t, back.State)
	assert.Equal(t, snap.BPM, back.State.BPM)
	assert.True(t, back.State.Config().Equal(withBPM(140)))
}

func TestSnapshotConfigRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := rhythm.Config{
		BPM:           96,
		TimeSignature: rhythm.TimeSignature{BeatsPerBar: 7, BeatUnit: 8},
		Accents:       rhythm.PresetDjent.Pattern(7),
		Subdivision:   rhythm.SubdivisionTriplet,
	}.Normalized()

	snap := SnapshotOf(cfg, true)
	assert.True(t, snap.Config().Equal(cfg))
}
