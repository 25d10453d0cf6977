// Package connection implements one peer session: its lifecycle, the
// reliable and unreliable channels, keepalive and timeout, and the table
// engines keep their sessions in.
package connection

import (
	"dominicbreuker/kcpnet/pkg/arq"
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/log"
	"dominicbreuker/kcpnet/pkg/protocol"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// disconnectRepeat is how often a Disconnect notice is sent. It travels
// unreliably, so it is repeated to survive some loss.
const disconnectRepeat = 5

// Hooks connect a Connection to the engine that owns it.
type Hooks struct {
	// Write sends one datagram. It must be safe for concurrent use.
	Write func(p []byte, addr netip.AddrPort) error
	// Emit queues an event for the application callback.
	Emit func(conn *Connection, ev Event)
	// Closed is called once after the connection reached Disconnected.
	Closed func(conn *Connection)
	// Now is the clock.
	Now func() time.Time
}

// Params configure a new Connection.
type Params struct {
	ID     uint64
	Remote netip.AddrPort
	Local  netip.AddrPort
	Config config.Config
	Cookie uint32
	State  State
	Hooks  Hooks
}

// Connection is one session with a remote peer. Send and Disconnect may be
// called from any goroutine. Everything else is driven by the engine's tick.
type Connection struct {
	id     uint64
	remote netip.AddrPort
	local  netip.AddrPort
	cfg    config.Config
	hooks  Hooks

	pingInterval time.Duration

	cookie      atomic.Uint32
	lastReceive atomic.Int64
	lastPing    atomic.Int64

	// stateMu guards state and orders events.
	stateMu sync.Mutex
	state   State

	// arqMu guards the ARQ engine and everything its output touches.
	arqMu    sync.Mutex
	arq      arq.Engine
	scratch  []byte
	writeErr error
}

// New creates a connection. It does not send anything.
func New(p Params) *Connection {
	c := &Connection{
		id:           p.ID,
		remote:       p.Remote,
		local:        p.Local,
		cfg:          p.Config,
		hooks:        p.Hooks,
		pingInterval: p.Config.PingInterval(),
		state:        p.State,
		scratch:      make([]byte, 0, p.Config.MTU),
	}
	c.cookie.Store(p.Cookie)
	c.lastReceive.Store(c.hooks.Now().UnixNano())
	return c
}

// ID is the engine-local identifier. It is never reused by an engine.
func (c *Connection) ID() uint64 {
	return c.id
}

// RemoteAddr is the peer's address.
func (c *Connection) RemoteAddr() netip.AddrPort {
	return c.remote
}

// LocalAddr is the address of the socket the connection uses.
func (c *Connection) LocalAddr() netip.AddrPort {
	return c.local
}

// Cookie is the session token, 0 before the client got its challenge.
func (c *Connection) Cookie() uint32 {
	return c.cookie.Load()
}

// LastReceive is the time the last valid datagram arrived.
func (c *Connection) LastReceive() time.Time {
	return time.Unix(0, c.lastReceive.Load())
}

// State returns the current state.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Pending is the number of reliable segments not yet acknowledged by the
// peer.
func (c *Connection) Pending() int {
	c.arqMu.Lock()
	defer c.arqMu.Unlock()
	if c.arq == nil {
		return 0
	}
	return c.arq.Pending()
}

func (c *Connection) String() string {
	return fmt.Sprintf("conn %d (%s)", c.id, c.remote)
}

// Send transmits payload on channel. Reliable payloads are queued and leave
// on the next tick. Unreliable payloads are written immediately.
func (c *Connection) Send(payload []byte, channel protocol.Channel) error {
	switch c.State() {
	case Disconnected:
		return newError(SendOnClosedConnection, nil, "connection %d", c.id)
	case Connecting, Handshaking:
		return newError(InvalidSend, nil, "handshake not complete")
	}
	if len(payload) == 0 {
		return newError(InvalidSend, nil, "empty payload")
	}

	switch channel {
	case protocol.Reliable:
		if limit := protocol.MaxReliablePayload(c.cfg.MTU, c.cfg.ReceiveWindowSize); len(payload) > limit {
			return newError(InvalidSend, nil, "reliable payload of %d bytes exceeds %d", len(payload), limit)
		}
		c.arqMu.Lock()
		err := c.arq.Send(protocol.EncodeMessage(protocol.Data, payload))
		c.arqMu.Unlock()
		switch {
		case errors.Is(err, arq.ErrQueueFull):
			return newError(QueueFull, err, "connection %d", c.id)
		case err != nil:
			return newError(InvalidSend, err, "arq.Send()")
		}
		return nil

	case protocol.Unreliable:
		if limit := protocol.MaxUnreliablePayload(c.cfg.MTU); len(payload) > limit {
			return newError(InvalidSend, nil, "unreliable payload of %d bytes exceeds %d", len(payload), limit)
		}
		if err := c.write(protocol.Data, protocol.Unreliable, payload); err != nil {
			return newError(SocketError, err, "WriteTo(%s)", c.remote)
		}
		return nil

	default:
		return newError(InvalidSend, nil, "unknown channel %s", channel)
	}
}

// Disconnect closes the connection and notifies the peer. It is idempotent.
func (c *Connection) Disconnect() {
	c.close(true, nil)
}

// Fail closes the connection after reporting err.
func (c *Connection) Fail(err *Error) {
	c.close(true, err)
}

// SetHandshaking stores the cookie from a challenge.
func (c *Connection) SetHandshaking(cookie uint32) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != Connecting && c.state != Handshaking {
		return
	}
	c.cookie.Store(cookie)
	c.state = Handshaking
}

// Establish completes the handshake: the reliable channel is set up with the
// cookie as its conversation id and Connected is emitted.
func (c *Connection) Establish() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state != Connecting && c.state != Handshaking {
		return nil
	}

	engine, err := arq.NewKCP(c.Cookie(), c.cfg.ARQOptions(), c.output)
	if err != nil {
		return fmt.Errorf("arq.NewKCP(): %w", err)
	}

	c.arqMu.Lock()
	c.arq = engine
	c.arqMu.Unlock()

	now := c.hooks.Now().UnixNano()
	c.lastReceive.Store(now)
	c.lastPing.Store(now)
	c.state = Connected
	c.emitLocked(Event{Type: EventConnected})
	return nil
}

// SendHello writes a Hello carrying the current cookie.
func (c *Connection) SendHello(channel protocol.Channel) error {
	return c.write(protocol.Hello, channel, nil)
}

// Receive handles a datagram whose cookie was already checked by the engine.
func (c *Connection) Receive(p protocol.Packet) {
	if c.State() != Connected {
		return
	}
	c.lastReceive.Store(c.hooks.Now().UnixNano())

	switch {
	case p.Type == protocol.Disconnect:
		log.DebugMsg("%s: peer disconnected\n", c)
		c.close(false, nil)

	case p.Type == protocol.Data && p.Channel == protocol.Unreliable:
		if len(p.Body) == 0 {
			return
		}
		c.emit(Event{Type: EventData, Channel: protocol.Unreliable, Data: append([]byte(nil), p.Body...)})

	case p.Type == protocol.Data && p.Channel == protocol.Reliable:
		c.receiveReliable(p.Body)
	}
}

func (c *Connection) receiveReliable(segments []byte) {
	var msgs [][]byte

	c.arqMu.Lock()
	if err := c.arq.Input(segments); err != nil {
		c.arqMu.Unlock()
		log.DebugMsg("%s: dropping reliable datagram: %s\n", c, err)
		return
	}
	for {
		msg, ok := c.arq.Receive()
		if !ok {
			break
		}
		msgs = append(msgs, msg)
	}
	c.arqMu.Unlock()

	for _, msg := range msgs {
		t, payload, err := protocol.DecodeMessage(msg)
		if err != nil {
			log.DebugMsg("%s: dropping reliable message: %s\n", c, err)
			continue
		}
		if t == protocol.Data && len(payload) > 0 {
			c.emit(Event{Type: EventData, Channel: protocol.Reliable, Data: payload})
		}
	}
}

// Update runs the per-tick work: timeout detection, keepalive, ARQ
// flushing and retransmit limit enforcement.
func (c *Connection) Update(now time.Time) {
	if c.State() != Connected {
		return
	}

	if now.Sub(c.LastReceive()) > c.cfg.Timeout {
		log.DebugMsg("%s: timed out\n", c)
		c.close(true, nil)
		return
	}

	var werr error
	if now.Sub(time.Unix(0, c.lastPing.Load())) >= c.pingInterval {
		c.lastPing.Store(now.UnixNano())
		werr = c.ping()
	}

	c.arqMu.Lock()
	c.arq.Update(now)
	exceeded := c.arq.RetransmitLimitExceeded()
	if werr == nil {
		werr = c.writeErr
	}
	c.writeErr = nil
	c.arqMu.Unlock()

	if exceeded {
		c.close(true, newError(RetransmitLimitExceeded, nil, "more than %d retransmits", c.cfg.MaxRetransmits))
		return
	}
	if werr != nil {
		c.emit(Event{Type: EventError, Err: newError(SocketError, werr, "WriteTo(%s)", c.remote)})
	}
}

func (c *Connection) ping() error {
	if !c.cfg.IsReliablePing {
		return c.write(protocol.Ping, protocol.Unreliable, nil)
	}

	c.arqMu.Lock()
	defer c.arqMu.Unlock()
	if err := c.arq.Send(protocol.EncodeMessage(protocol.Ping, nil)); err != nil && !errors.Is(err, arq.ErrQueueFull) {
		return fmt.Errorf("arq.Send(ping): %w", err)
	}
	return nil
}

// output is the ARQ engine's segment sink. It runs with arqMu held.
func (c *Connection) output(segments []byte) {
	c.scratch = protocol.AppendPacket(c.scratch[:0], protocol.Data, protocol.Reliable, c.Cookie(), segments)
	if err := c.hooks.Write(c.scratch, c.remote); err != nil && c.writeErr == nil {
		c.writeErr = err
	}
}

func (c *Connection) write(t protocol.MessageType, ch protocol.Channel, body []byte) error {
	return c.hooks.Write(protocol.Encode(t, ch, c.Cookie(), body), c.remote)
}

func (c *Connection) close(notify bool, cause *Error) {
	c.stateMu.Lock()
	if c.state == Disconnected {
		c.stateMu.Unlock()
		return
	}
	if cause != nil {
		c.emitLocked(Event{Type: EventError, Err: cause})
	}
	c.emitLocked(Event{Type: EventDisconnected})
	c.state = Disconnected
	c.stateMu.Unlock()

	if notify && c.Cookie() != 0 {
		for i := 0; i < disconnectRepeat; i++ {
			if err := c.write(protocol.Disconnect, protocol.Unreliable, nil); err != nil {
				log.DebugMsg("%s: sending disconnect: %s\n", c, err)
				break
			}
		}
	}

	if c.hooks.Closed != nil {
		c.hooks.Closed(c)
	}
}

func (c *Connection) emit(ev Event) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.emitLocked(ev)
}

func (c *Connection) emitLocked(ev Event) {
	if c.state == Disconnected {
		return
	}
	ev.ConnID = c.id
	c.hooks.Emit(c, ev)
}
