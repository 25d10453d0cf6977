// Package engine holds the tick machinery shared by server and client: the
// bounded socket drain, the per-tick send budget, connection ids, and the
// event queue that is dispatched to the application callback.
package engine

import (
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/connection"
	"dominicbreuker/kcpnet/pkg/log"
	"dominicbreuker/kcpnet/pkg/transport"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// readBufferSize fits any UDP datagram.
const readBufferSize = 64 * 1024

type queuedEvent struct {
	conn *connection.Connection
	ev   connection.Event
}

// Engine owns a socket and the connections using it. Tick-path methods must
// be called from one goroutine at a time. Write, Emit and NextID are safe
// for concurrent use.
type Engine struct {
	conn     transport.PacketConn
	cfg      config.Config
	callback connection.Callback
	now      config.NowFunc
	table    *connection.Table

	nextID atomic.Uint64
	sent   atomic.Int64

	mu    sync.Mutex
	queue []queuedEvent

	readBuf     []byte
	readFailing bool
	rotate      int
	dispatching bool
}

// New creates an engine on conn. Kernel buffers are sized from cfg when the
// socket supports it.
func New(conn transport.PacketConn, cfg config.Config, callback connection.Callback, now config.NowFunc) *Engine {
	if bs, ok := conn.(transport.BufferSizer); ok {
		if err := bs.SetReadBuffer(cfg.RecvBufferSize); err != nil {
			log.DebugMsg("SetReadBuffer(%d): %s\n", cfg.RecvBufferSize, err)
		}
		if err := bs.SetWriteBuffer(cfg.SendBufferSize); err != nil {
			log.DebugMsg("SetWriteBuffer(%d): %s\n", cfg.SendBufferSize, err)
		}
	}

	return &Engine{
		conn:     conn,
		cfg:      cfg,
		callback: callback,
		now:      now,
		table:    connection.NewTable(),
		readBuf:  make([]byte, readBufferSize),
	}
}

// Table returns the connection table.
func (e *Engine) Table() *connection.Table {
	return e.table
}

// LocalAddr is the socket's bound address.
func (e *Engine) LocalAddr() netip.AddrPort {
	return e.conn.LocalAddr()
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

// NextID allocates a connection id. Ids start at 1 and are never reused.
func (e *Engine) NextID() uint64 {
	return e.nextID.Add(1)
}

// Write sends one datagram and counts it against the tick's send budget.
func (e *Engine) Write(p []byte, addr netip.AddrPort) error {
	n, err := e.conn.WriteTo(p, addr)
	e.sent.Add(int64(n))
	if err != nil {
		return fmt.Errorf("WriteTo(%s): %w", addr, err)
	}
	return nil
}

// Emit queues an event for the next Dispatch.
func (e *Engine) Emit(conn *connection.Connection, ev connection.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, queuedEvent{conn: conn, ev: ev})
}

// Hooks returns the hooks a connection of this engine needs.
func (e *Engine) Hooks() connection.Hooks {
	return connection.Hooks{
		Write:  e.Write,
		Emit:   e.Emit,
		Closed: e.remove,
		Now:    e.now,
	}
}

func (e *Engine) remove(c *connection.Connection) {
	e.table.Remove(c)
}

// NewConnection creates a connection with a fresh id and registers it.
func (e *Engine) NewConnection(remote netip.AddrPort, cookie uint32, state connection.State) (*connection.Connection, error) {
	c := connection.New(connection.Params{
		ID:     e.NextID(),
		Remote: remote,
		Local:  e.conn.LocalAddr(),
		Config: e.cfg,
		Cookie: cookie,
		State:  state,
		Hooks:  e.Hooks(),
	})
	if err := e.table.Insert(c); err != nil {
		return nil, fmt.Errorf("Insert(%s): %w", remote, err)
	}
	return c, nil
}

// BeginTick starts a new send budget period.
func (e *Engine) BeginTick() {
	e.sent.Store(0)
}

// Drain reads pending datagrams and passes each to handle until the socket
// is empty or RecvBufferSize bytes were consumed. Datagrams larger than the
// MTU are dropped. The slice passed to handle is only valid during the call.
func (e *Engine) Drain(handle func(b []byte, from netip.AddrPort)) {
	consumed := 0
	for consumed < e.cfg.RecvBufferSize {
		n, from, err := e.conn.ReadFrom(e.readBuf)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) || errors.Is(err, net.ErrClosed) {
				return
			}
			if !e.readFailing {
				e.readFailing = true
				e.Emit(nil, connection.Event{Type: connection.EventError, Err: &connection.Error{
					Kind: connection.SocketError,
					Msg:  "ReadFrom()",
					Err:  err,
				}})
			}
			return
		}
		e.readFailing = false
		consumed += n

		if n > e.cfg.MTU {
			log.DebugMsg("dropping %d byte datagram from %s: exceeds mtu\n", n, from)
			continue
		}
		handle(e.readBuf[:n], from)
	}
}

// UpdateAll runs Update on every connection. Once the tick's writes exceed
// SendBufferSize the remaining connections wait for the next tick. The
// starting connection rotates so that none is starved.
func (e *Engine) UpdateAll(now time.Time) {
	conns := e.table.Snapshot()
	if len(conns) == 0 {
		return
	}

	start := e.rotate % len(conns)
	e.rotate++
	for i := range conns {
		if e.sent.Load() >= int64(e.cfg.SendBufferSize) {
			log.DebugMsg("send budget of %d bytes exhausted\n", e.cfg.SendBufferSize)
			return
		}
		conns[(start+i)%len(conns)].Update(now)
	}
}

// Dispatch delivers queued events to the callback in order. Events queued
// by the callback itself are delivered in the same call.
func (e *Engine) Dispatch() {
	if e.dispatching {
		return
	}
	e.dispatching = true
	defer func() { e.dispatching = false }()

	for {
		e.mu.Lock()
		queue := e.queue
		e.queue = nil
		e.mu.Unlock()

		if len(queue) == 0 {
			return
		}
		for _, q := range queue {
			if e.callback != nil {
				e.callback(q.conn, q.ev)
			}
		}
	}
}

// DisconnectAll disconnects every connection.
func (e *Engine) DisconnectAll() {
	for _, c := range e.table.Snapshot() {
		c.Disconnect()
	}
}

// Close closes the socket.
func (e *Engine) Close() error {
	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("Close(): %w", err)
	}
	return nil
}
