// Package mocks provides mock implementations for testing.
package mocks

import (
	"dominicbreuker/kcpnet/pkg/transport"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
)

// Action tells the network what to do with one datagram.
type Action int

const (
	// Deliver passes the datagram on.
	Deliver Action = iota
	// Drop loses the datagram.
	Drop
	// Duplicate delivers the datagram twice.
	Duplicate
	// Hold delays the datagram until the next datagram for the same
	// destination has been delivered, which swaps their order.
	Hold
)

// FaultFunc decides the fate of every datagram sent through the network.
type FaultFunc func(from, to netip.AddrPort, data []byte) Action

// queueLimit mimics a kernel receive buffer. Excess datagrams are dropped.
const queueLimit = 4096

// MockUDPNetwork simulates a UDP network for testing without real network connections.
// Sockets bound on it exchange datagrams through in-memory queues and never block.
type MockUDPNetwork struct {
	listeners map[netip.AddrPort]*mockUDPListener
	held      map[netip.AddrPort][]*mockUDPPacket
	fault     FaultFunc
	nextPort  uint16
	mu        sync.Mutex
}

// NewMockUDPNetwork creates a new mock UDP network.
func NewMockUDPNetwork() *MockUDPNetwork {
	return &MockUDPNetwork{
		listeners: make(map[netip.AddrPort]*mockUDPListener),
		held:      make(map[netip.AddrPort][]*mockUDPPacket),
		nextPort:  40000,
	}
}

// SetFault installs fn to decide the fate of every datagram. Pass nil to
// deliver everything.
func (m *MockUDPNetwork) SetFault(fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// ListenPacket binds a mock socket. Unspecified hosts bind to 127.0.0.1 and
// port 0 picks a free port.
func (m *MockUDPNetwork) ListenPacket(network, address string) (transport.PacketConn, error) {
	switch network {
	case "udp", "udp4", "udp6":
	default:
		return nil, fmt.Errorf("unsupported network type: %s", network)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("net.SplitHostPort(%s): %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	ip := netip.MustParseAddr("127.0.0.1")
	if host != "" {
		parsed, err := netip.ParseAddr(host)
		if err != nil {
			return nil, fmt.Errorf("netip.ParseAddr(%s): %w", host, err)
		}
		if !parsed.IsUnspecified() {
			ip = parsed.Unmap()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if port == 0 {
		for {
			m.nextPort++
			candidate := netip.AddrPortFrom(ip, m.nextPort)
			if _, exists := m.listeners[candidate]; !exists {
				port = uint64(m.nextPort)
				break
			}
		}
	}

	addr := netip.AddrPortFrom(ip, uint16(port))
	if _, exists := m.listeners[addr]; exists {
		return nil, fmt.Errorf("address already in use: %s", addr)
	}

	listener := &mockUDPListener{
		addr:    addr,
		network: m,
	}
	m.listeners[addr] = listener

	return listener, nil
}

// Inject delivers data to the socket bound on to as if it had been sent
// from from. It bypasses the fault function.
func (m *MockUDPNetwork) Inject(data []byte, from, to netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(&mockUDPPacket{data: append([]byte(nil), data...), addr: from}, to)
}

// send routes one datagram through the fault function.
func (m *MockUDPNetwork) send(data []byte, from, to netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()

	packet := &mockUDPPacket{data: append([]byte(nil), data...), addr: from}

	action := Deliver
	if m.fault != nil {
		action = m.fault(from, to, packet.data)
	}

	switch action {
	case Drop:
		return
	case Hold:
		m.held[to] = append(m.held[to], packet)
		return
	case Duplicate:
		m.enqueueLocked(packet, to)
		m.enqueueLocked(&mockUDPPacket{data: append([]byte(nil), packet.data...), addr: from}, to)
	default:
		m.enqueueLocked(packet, to)
	}

	if held := m.held[to]; len(held) > 0 {
		delete(m.held, to)
		for _, p := range held {
			m.enqueueLocked(p, to)
		}
	}
}

func (m *MockUDPNetwork) enqueueLocked(packet *mockUDPPacket, to netip.AddrPort) {
	listener, exists := m.listeners[to]
	if !exists {
		// In real UDP, packets can be sent to non-listening addresses
		return
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if listener.closed || len(listener.packets) >= queueLimit {
		return
	}
	listener.packets = append(listener.packets, packet)
}

// mockUDPPacket represents a UDP packet in the mock network.
type mockUDPPacket struct {
	data []byte
	addr netip.AddrPort
}

// mockUDPListener is a mock implementation of transport.PacketConn.
type mockUDPListener struct {
	addr    netip.AddrPort
	packets []*mockUDPPacket
	closed  bool
	mu      sync.Mutex
	network *MockUDPNetwork
}

// ReadFrom returns the next queued packet or transport.ErrWouldBlock.
func (l *mockUDPListener) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, netip.AddrPort{}, net.ErrClosed
	}
	if len(l.packets) == 0 {
		return 0, netip.AddrPort{}, transport.ErrWouldBlock
	}

	packet := l.packets[0]
	l.packets[0] = nil
	l.packets = l.packets[1:]
	return copy(p, packet.data), packet.addr, nil
}

// WriteTo sends a packet to addr.
func (l *mockUDPListener) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}

	l.network.send(p, l.addr, addr)
	return len(p), nil
}

// Close closes the connection.
func (l *mockUDPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.packets = nil
	l.mu.Unlock()

	// Remove the listener from the network's map
	l.network.mu.Lock()
	delete(l.network.listeners, l.addr)
	l.network.mu.Unlock()

	return nil
}

// LocalAddr returns the local network address.
func (l *mockUDPListener) LocalAddr() netip.AddrPort {
	return l.addr
}

var _ transport.PacketConn = (*mockUDPListener)(nil)
