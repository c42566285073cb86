package peersync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulsekit/pulse/clock"
	"github.com/pulsekit/pulse/logger"
	"github.com/pulsekit/pulse/rhythm"
)

// Send attempts give up after this long; failures are logged and the sender
// proceeds.
const sendTimeout = 2 * time.Second

// Peer is the authoritative state holder the syncer replicates. The
// orchestrator implements it; tests use a fake.
type Peer interface {
	// SyncSnapshot returns the current config and playing flag.
	SyncSnapshot() (rhythm.Config, bool)
	// ApplySyncSnapshot replaces the state wholesale with a winning remote
	// snapshot. It must not re-broadcast.
	ApplySyncSnapshot(cfg rhythm.Config, playing bool)
	// ApplySyncCommand performs a remote command as if it were a local user
	// action; the resulting mutation broadcasts a fresh snapshot.
	ApplySyncCommand(cmd Command)
}

// TieBreaker decides whether an inbound snapshot beats the local state.
// Exposed so product can change the conflict rule without touching the
// replication plumbing.
type TieBreaker func(localRevision uint64, localTimestamp float64, inbound Envelope) bool

// LatestTimestampWins is the default rule: higher revision wins; on a
// revision tie the later timestamp wins; an exact tie drops the inbound.
func LatestTimestampWins(localRevision uint64, localTimestamp float64, inbound Envelope) bool {
	if inbound.Revision != localRevision {
		return inbound.Revision > localRevision
	}
	return inbound.Timestamp > localTimestamp
}

// Syncer runs the replication protocol over a channel. Every authoritative
// mutation bumps the local revision and broadcasts a snapshot; inbound
// snapshots apply only when they win the tie-break. The last broadcast or
// applied snapshot is kept in a last-known-context slot so a reconnecting
// peer can bootstrap from a Ping/Pong exchange.
type Syncer struct {
	peer Peer
	ch   Channel
	clk  clock.PassiveSource
	tie  TieBreaker

	mu        sync.Mutex
	revision  uint64
	timestamp float64
	lastKnown *Envelope
}

// NewSyncer wires a peer to a channel. A nil tie breaker uses
// LatestTimestampWins.
func NewSyncer(peer Peer, ch Channel, clk clock.PassiveSource, tie TieBreaker) *Syncer {
	if tie == nil {
		tie = LatestTimestampWins
	}
	return &Syncer{peer: peer, ch: ch, clk: clk, tie: tie}
}

// Revision returns the local revision counter.
func (s *Syncer) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Reachable reflects live channel availability.
func (s *Syncer) Reachable() bool {
	return s.ch.Reachable()
}

// LastKnown returns the last-known-context snapshot, if any.
func (s *Syncer) LastKnown() (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastKnown == nil {
		return Envelope{}, false
	}
	return *s.lastKnown, true
}

// LocalMutated records an authoritative mutation: it increments the
// revision, refreshes the last-known-context slot and broadcasts the
// snapshot. Even while unreachable the slot is updated so reconnection
// re-syncs.
func (s *Syncer) LocalMutated(cfg rhythm.Config, playing bool) {
	s.mu.Lock()
	s.revision++
	s.timestamp = s.nowSeconds()
	env := Envelope{
		Type:      TypeStateSync,
		Timestamp: s.timestamp,
		Revision:  s.revision,
	}
	snap := SnapshotOf(cfg, playing)
	env.State = &snap
	s.lastKnown = &env
	s.mu.Unlock()

	s.send(env)
}

// Ping asks the peer for its current state; the peer answers with a Pong
// carrying its snapshot. Useful right after reconnection.
func (s *Syncer) Ping() {
	s.mu.Lock()
	env := Envelope{Type: TypePing, Timestamp: s.nowSeconds(), Revision: s.revision}
	s.mu.Unlock()
	s.send(env)
}

// Run consumes inbound envelopes until the context is done or the channel
// closes.
func (s *Syncer) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.ch.Receive():
			if !ok {
				return
			}
			s.handle(env)
		}
	}
}

func (s *Syncer) handle(env Envelope) {
	log := logger.GetProjectLogger()
	switch env.Type {
	case TypeStateSync, TypePong:
		if env.State == nil {
			return
		}
		s.mu.Lock()
		win := s.tie(s.revision, s.timestamp, env)
		if win {
			s.revision = env.Revision
			s.timestamp = env.Timestamp
			s.lastKnown = &env
		}
		s.mu.Unlock()
		if !win {
			log.WithFields(logrus.Fields{"revision": env.Revision}).Debug("dropping stale sync snapshot")
			return
		}
		s.peer.ApplySyncSnapshot(env.State.Config(), env.State.IsPlaying)

	case TypeCommand:
		if !env.Command.Known() {
			log.WithField("command", string(env.Command)).Debug("ignoring unknown sync command")
			return
		}
		s.peer.ApplySyncCommand(env.Command)

	case TypePing:
		cfg, playing := s.peer.SyncSnapshot()
		s.mu.Lock()
		reply := Envelope{Type: TypePong, Timestamp: s.nowSeconds(), Revision: s.revision}
		snap := SnapshotOf(cfg, playing)
		reply.State = &snap
		s.mu.Unlock()
		s.send(reply)

	default:
		// Unknown envelope types are ignored for forward compatibility.
	}
}

// send delivers with the protocol timeout. Errors never interrupt metronome
// operation; they are logged and the slot keeps the state for reconnection.
func (s *Syncer) send(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.ch.Send(ctx, env); err != nil {
		logger.GetProjectLogger().WithFields(logrus.Fields{
			"type": env.Type,
			"err":  err,
		}).Warn("peer sync send failed")
	}
}

func (s *Syncer) nowSeconds() float64 {
	return float64(s.clk.Now().UnixNano()) / float64(time.Second)
}
