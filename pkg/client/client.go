// Package client implements the connecting side of the transport.
package client

import (
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/connection"
	"dominicbreuker/kcpnet/pkg/engine"
	"dominicbreuker/kcpnet/pkg/log"
	"dominicbreuker/kcpnet/pkg/protocol"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"
)

// Client holds at most one connection to a server. Connect, Tick and Close
// must be called from the same goroutine. Send and Disconnect may be called
// from anywhere.
type Client struct {
	cfg      config.Config
	callback connection.Callback
	listen   config.PacketListenerFunc
	now      config.NowFunc

	engine *engine.Engine
	conn   atomic.Pointer[connection.Connection]

	startedAt time.Time
	lastHello time.Time
}

// New returns a client that reports to callback. deps may be nil.
func New(cfg config.Config, callback connection.Callback, deps *config.Dependencies) (*Client, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return &Client{
		cfg:      cfg,
		callback: callback,
		listen:   config.GetPacketListenerFunc(deps),
		now:      config.GetNowFunc(deps),
	}, nil
}

// Connect binds a local socket and starts the handshake with address. The
// outcome is reported through the callback during later ticks.
func (c *Client) Connect(address string) error {
	if conn := c.conn.Load(); conn != nil && conn.State() != connection.Disconnected {
		return fmt.Errorf("already connected to %s", conn.RemoteAddr())
	}
	if err := c.closeEngine(); err != nil {
		log.DebugMsg("closing previous socket: %s\n", err)
	}

	remote, err := resolve(address)
	if err != nil {
		return err
	}

	ipv6 := remote.Addr().Is6()
	local := ":0"
	if ipv6 || c.cfg.DualMode {
		local = "[::]:0"
	}
	network := c.cfg.Network(ipv6)
	sock, err := c.listen(network, local)
	if err != nil {
		return fmt.Errorf("listen(%s, %s): %w", network, local, err)
	}

	c.engine = engine.New(sock, c.cfg, c.callback, c.now)
	conn, err := c.engine.NewConnection(remote, 0, connection.Connecting)
	if err != nil {
		c.closeEngine()
		return fmt.Errorf("NewConnection(%s): %w", remote, err)
	}
	c.conn.Store(conn)

	now := c.now()
	c.startedAt = now
	c.lastHello = now
	if err := conn.SendHello(protocol.Unreliable); err != nil {
		log.DebugMsg("%s: sending hello: %s\n", conn, err)
	}
	return nil
}

func resolve(address string) (netip.AddrPort, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		udpAddr, err = net.ResolveUDPAddr("udp", address)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("net.ResolveUDPAddr(udp, %s): %w", address, err)
		}
	}
	ap := udpAddr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// Tick runs TickIncoming followed by TickOutgoing.
func (c *Client) Tick() {
	c.TickIncoming()
	c.TickOutgoing()
}

// TickIncoming drains the socket and delivers the resulting events before
// returning. It does nothing before Connect.
func (c *Client) TickIncoming() {
	if c.engine == nil {
		return
	}
	c.engine.Drain(c.handleDatagram)
	c.engine.Dispatch()
}

// TickOutgoing drives the handshake, flushes the connection and runs its
// keepalive and timeout checks, then delivers the resulting events and
// starts a new send budget period. It does nothing before Connect.
func (c *Client) TickOutgoing() {
	if c.engine == nil {
		return
	}
	now := c.now()
	c.handshake(now)
	c.engine.UpdateAll(now)
	c.engine.Dispatch()
	c.engine.BeginTick()
}

func (c *Client) handshake(now time.Time) {
	conn := c.conn.Load()
	if conn == nil {
		return
	}
	if s := conn.State(); s != connection.Connecting && s != connection.Handshaking {
		return
	}

	if now.Sub(c.startedAt) > c.cfg.Timeout {
		conn.Fail(&connection.Error{
			Kind: connection.HandshakeFailed,
			Msg:  fmt.Sprintf("no accept from %s within %s", conn.RemoteAddr(), c.cfg.Timeout),
		})
		return
	}

	if now.Sub(c.lastHello) >= c.cfg.HelloInterval() {
		c.lastHello = now
		if err := conn.SendHello(protocol.Unreliable); err != nil {
			log.DebugMsg("%s: resending hello: %s\n", conn, err)
		}
	}
}

func (c *Client) handleDatagram(b []byte, from netip.AddrPort) {
	conn := c.conn.Load()
	if conn == nil || from != conn.RemoteAddr() {
		log.DebugMsg("dropping datagram from unexpected peer %s\n", from)
		return
	}

	p, err := protocol.Decode(b)
	if err != nil {
		log.DebugMsg("dropping datagram from %s: %s\n", from, err)
		return
	}

	switch conn.State() {
	case connection.Connecting:
		if p.Type != protocol.Hello || p.Channel != protocol.Unreliable || p.Cookie == 0 {
			return
		}
		conn.SetHandshaking(p.Cookie)
		c.lastHello = c.now()
		if err := conn.SendHello(protocol.Unreliable); err != nil {
			log.DebugMsg("%s: answering challenge: %s\n", conn, err)
		}

	case connection.Handshaking:
		if p.Cookie != conn.Cookie() {
			return
		}
		if p.Type == protocol.Hello {
			if p.Channel == protocol.Reliable {
				c.establish(conn)
			}
			return
		}
		// the accept got lost but the server already talks to us
		c.establish(conn)
		conn.Receive(p)

	case connection.Connected:
		if p.Cookie != conn.Cookie() {
			log.DebugMsg("dropping datagram from %s: cookie mismatch\n", from)
			return
		}
		conn.Receive(p)
	}
}

func (c *Client) establish(conn *connection.Connection) {
	if err := conn.Establish(); err != nil {
		conn.Fail(&connection.Error{Kind: connection.HandshakeFailed, Msg: "Establish()", Err: err})
		return
	}
	log.DebugMsg("%s: connected\n", conn)
}

// Connection returns the current connection, or nil before Connect.
func (c *Client) Connection() *connection.Connection {
	return c.conn.Load()
}

// LocalAddr is the address of the local socket, or the zero value before
// Connect.
func (c *Client) LocalAddr() netip.AddrPort {
	if c.engine == nil {
		return netip.AddrPort{}
	}
	return c.engine.LocalAddr()
}

// Send sends payload to the server.
func (c *Client) Send(payload []byte, channel protocol.Channel) error {
	conn := c.conn.Load()
	if conn == nil {
		return &connection.Error{Kind: connection.SendOnClosedConnection, Msg: "not connected"}
	}
	return conn.Send(payload, channel)
}

// Disconnect closes the connection. The Disconnected event is delivered on
// the next Tick.
func (c *Client) Disconnect() {
	if conn := c.conn.Load(); conn != nil {
		conn.Disconnect()
	}
}

// Close disconnects, delivers the final events and closes the socket.
func (c *Client) Close() error {
	c.Disconnect()
	return c.closeEngine()
}

func (c *Client) closeEngine() error {
	if c.engine == nil {
		return nil
	}
	c.engine.Dispatch()
	err := c.engine.Close()
	c.engine = nil
	return err
}
