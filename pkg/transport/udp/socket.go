// Package udp provides the socket transport: a bound UDP socket whose receive
// side never blocks, so a tick can drain pending datagrams and return.
package udp

import (
	"dominicbreuker/kcpnet/pkg/transport"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// Socket is a UDP socket implementing transport.PacketConn.
type Socket struct {
	conn  *net.UDPConn
	raw   syscall.RawConn
	local netip.AddrPort
}

// Listen binds a UDP socket on address. Use network "udp4" for IPv4 only,
// "udp6" for IPv6 only, or "udp" with a wildcard host for dual stack.
func Listen(network, address string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveUDPAddr(%s, %s): %w", network, address, err)
	}

	conn, err := net.ListenUDP(network, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("net.ListenUDP(%s, %s): %w", network, address, err)
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SyscallConn(): %w", err)
	}

	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &Socket{
		conn:  conn,
		raw:   raw,
		local: netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
	}, nil
}

// ReadFrom reads the next pending datagram or returns transport.ErrWouldBlock.
// IPv4-mapped IPv6 source addresses are unmapped so that a peer has a single
// canonical address regardless of the socket family.
func (s *Socket) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	return s.readNonBlocking(p)
}

// WriteTo sends p to addr as one datagram.
func (s *Socket) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(p, addr)
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.local
}

// SetReadBuffer sets the kernel receive buffer size.
func (s *Socket) SetReadBuffer(bytes int) error {
	return s.conn.SetReadBuffer(bytes)
}

// SetWriteBuffer sets the kernel send buffer size.
func (s *Socket) SetWriteBuffer(bytes int) error {
	return s.conn.SetWriteBuffer(bytes)
}

// Close closes the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

var _ transport.PacketConn = (*Socket)(nil)
var _ transport.BufferSizer = (*Socket)(nil)
