package peersync

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	"github.com/pulsekit/pulse/logger"
)

// OSC address the sync protocol rides on. One address, one string argument:
// the JSON envelope.
const OSCAddress = "/pulse/sync"

// OSCChannel carries envelopes over UDP/OSC between paired devices.
type OSCChannel struct {
	client    *osc.Client
	server    *osc.Server
	conn      net.PacketConn
	inbox     chan Envelope
	reachable atomic.Bool
	closed    atomic.Bool
}

// NewOSCChannel listens on localAddr (e.g. ":9021") and sends to the remote
// peer. The server goroutine runs until Close.
func NewOSCChannel(localAddr, remoteHost string, remotePort int) (*OSCChannel, error) {
	conn, err := net.ListenPacket("udp", localAddr)
	if err != nil {
		return nil, errors.Wrap(err, "listening for peer sync")
	}

	c := &OSCChannel{
		client: osc.NewClient(remoteHost, remotePort),
		conn:   conn,
		inbox:  make(chan Envelope, channelBuffer),
	}

	dispatcher := osc.NewStandardDispatcher()
	if err := dispatcher.AddMsgHandler(OSCAddress, c.handleMessage); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "registering sync handler")
	}
	c.server = &osc.Server{Addr: localAddr, Dispatcher: dispatcher}

	go func() {
		if err := c.server.Serve(conn); err != nil && !c.closed.Load() {
			logger.GetProjectLogger().WithField("err", err).Warn("peer sync server stopped")
		}
	}()
	return c, nil
}

func (c *OSCChannel) handleMessage(msg *osc.Message) {
	if len(msg.Arguments) != 1 {
		return
	}
	payload, ok := msg.Arguments[0].(string)
	if !ok {
		return
	}
	env, err := DecodeEnvelope([]byte(payload))
	if err != nil {
		logger.GetProjectLogger().WithField("err", err).Debug("dropping malformed sync envelope")
		return
	}
	c.reachable.Store(true)
	select {
	case c.inbox <- env:
	default:
		// Receiver lagging: the state is latest-writer-wins, dropping an
		// older envelope is safe.
	}
}

// Send delivers one envelope. UDP sends complete quickly; the context is
// honored before the attempt so a canceled send costs nothing.
func (c *OSCChannel) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(ErrPeerUnreachable, err.Error())
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	msg := osc.NewMessage(OSCAddress)
	msg.Append(string(data))
	if err := c.client.Send(msg); err != nil {
		c.reachable.Store(false)
		return errors.Wrap(ErrPeerUnreachable, err.Error())
	}
	c.reachable.Store(true)
	return nil
}

func (c *OSCChannel) Receive() <-chan Envelope {
	return c.inbox
}

func (c *OSCChannel) Reachable() bool {
	return c.reachable.Load() && !c.closed.Load()
}

func (c *OSCChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
