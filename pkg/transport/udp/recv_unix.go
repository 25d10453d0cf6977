//go:build unix

package udp

import (
	"dominicbreuker/kcpnet/pkg/transport"
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// readNonBlocking issues a single recvfrom with MSG_DONTWAIT. Returning true
// from the RawConn callback keeps the runtime poller from parking us when the
// queue is empty.
func (s *Socket) readNonBlocking(p []byte) (int, netip.AddrPort, error) {
	var (
		n    int
		from unix.Sockaddr
		rerr error
	)

	err := s.raw.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), p, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("RawConn.Read(): %w", err)
	}
	if rerr != nil {
		if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) || errors.Is(rerr, unix.EINTR) {
			return 0, netip.AddrPort{}, transport.ErrWouldBlock
		}
		return 0, netip.AddrPort{}, fmt.Errorf("unix.Recvfrom(): %w", rerr)
	}

	return n, sockaddrToAddrPort(from), nil
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port))
	default:
		return netip.AddrPort{}
	}
}
