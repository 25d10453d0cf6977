//go:build !unix

package udp

import (
	"dominicbreuker/kcpnet/pkg/transport"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// pollWait bounds how long an empty receive queue can hold up a tick on
// platforms without MSG_DONTWAIT support in x/sys.
const pollWait = 100 * time.Microsecond

func (s *Socket) readNonBlocking(p []byte) (int, netip.AddrPort, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("SetReadDeadline(): %w", err)
	}

	n, addr, err := s.conn.ReadFromUDPAddrPort(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, netip.AddrPort{}, transport.ErrWouldBlock
		}
		return 0, netip.AddrPort{}, fmt.Errorf("ReadFromUDPAddrPort(): %w", err)
	}

	return n, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), nil
}
