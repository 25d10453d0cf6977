// Package transport defines the datagram socket abstraction the tick engines
// are built on. Implementations live in sub-packages:
//
//   - udp: a bound UDP socket with non-blocking receive
//   - mocks (top level): an in-memory network for tests
//
// A PacketConn never blocks the caller's loop on receive. ReadFrom returns
// ErrWouldBlock as soon as the receive queue is empty, which lets Tick drain
// whatever is pending and return. Writes are fire-and-forget datagrams.
//
// Example usage:
//
//	conn, err := udp.Listen("udp", ":7777")
//	n, from, err := conn.ReadFrom(buf)
//	if errors.Is(err, transport.ErrWouldBlock) {
//		// nothing pending, come back next tick
//	}
package transport

import (
	"errors"
	"net/netip"
)

// ErrWouldBlock is returned by ReadFrom when no datagram is pending.
var ErrWouldBlock = errors.New("transport: operation would block")

// PacketConn is a datagram socket with a non-blocking receive side.
type PacketConn interface {
	// ReadFrom copies the next pending datagram into p. It returns
	// ErrWouldBlock immediately when nothing is queued.
	ReadFrom(p []byte) (n int, addr netip.AddrPort, err error)
	// WriteTo sends p as a single datagram to addr.
	WriteTo(p []byte, addr netip.AddrPort) (n int, err error)
	LocalAddr() netip.AddrPort
	Close() error
}

// BufferSizer is implemented by sockets whose kernel buffers can be resized.
type BufferSizer interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}
