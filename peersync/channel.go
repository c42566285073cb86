package peersync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrPeerUnreachable reports a delivery failure. Senders log it and proceed;
// the replicated slot guarantees re-sync on reconnection.
var ErrPeerUnreachable = errors.New("peer unreachable")

const channelBuffer = 64

// Channel is a duplex envelope path to the paired peer. Delivery is
// at-most-once with no ordering guarantee.
type Channel interface {
	Send(ctx context.Context, env Envelope) error
	Receive() <-chan Envelope
	Reachable() bool
	Close() error
}

// Loopback is an in-process channel endpoint, used by tests and by same-host
// pairing. Create both ends with NewLoopbackPair.
type Loopback struct {
	mu        sync.Mutex
	peer      *Loopback
	inbox     chan Envelope
	reachable bool
	closed    bool
}

// NewLoopbackPair returns two connected endpoints.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{inbox: make(chan Envelope, channelBuffer), reachable: true}
	b := &Loopback{inbox: make(chan Envelope, channelBuffer), reachable: true}
	a.peer = b
	b.peer = a
	return a, b
}

// SetReachable simulates the peer dropping off or returning.
func (l *Loopback) SetReachable(v bool) {
	l.mu.Lock()
	l.reachable = v
	l.mu.Unlock()
}

func (l *Loopback) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable && !l.closed
}

func (l *Loopback) Send(ctx context.Context, env Envelope) error {
	l.mu.Lock()
	peer := l.peer
	ok := l.reachable && !l.closed
	l.mu.Unlock()
	if !ok {
		return ErrPeerUnreachable
	}
	select {
	case peer.inbox <- env:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ErrPeerUnreachable, ctx.Err().Error())
	}
}

func (l *Loopback) Receive() <-chan Envelope {
	return l.inbox
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.inbox)
	}
	return nil
}
