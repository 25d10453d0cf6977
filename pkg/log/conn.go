package log

import (
	"dominicbreuker/kcpnet/pkg/transport"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"
)

// loggedPacketConn wraps a transport.PacketConn and logs every datagram to a
// file, one line per datagram:
//
//	15:04:05.000000 > 127.0.0.1:7777 3101000000...
//
// ">" marks outbound and "<" inbound datagrams.
type loggedPacketConn struct {
	conn    transport.PacketConn
	mu      sync.Mutex
	logFile *os.File
}

func (lc *loggedPacketConn) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	n, addr, err := lc.conn.ReadFrom(p)
	if n > 0 && err == nil {
		if lerr := lc.record('<', addr, p[:n]); lerr != nil {
			return 0, addr, fmt.Errorf("reading: %s", lerr)
		}
	}
	return n, addr, err
}

func (lc *loggedPacketConn) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	n, err := lc.conn.WriteTo(p, addr)
	if n > 0 {
		if lerr := lc.record('>', addr, p[:n]); lerr != nil {
			return 0, fmt.Errorf("writing: %s", lerr)
		}
	}
	return n, err
}

func (lc *loggedPacketConn) record(dir byte, addr netip.AddrPort, b []byte) error {
	line := fmt.Sprintf("%s %c %s %s\n", time.Now().Format("15:04:05.000000"), dir, addr, hex.EncodeToString(b))

	lc.mu.Lock()
	defer lc.mu.Unlock()
	_, err := lc.logFile.WriteString(line)
	return err
}

func (lc *loggedPacketConn) LocalAddr() netip.AddrPort {
	return lc.conn.LocalAddr()
}

func (lc *loggedPacketConn) Close() error {
	err := lc.conn.Close()
	lc.logFile.Close()
	return err
}

// SetReadBuffer forwards to the wrapped socket if it supports resizing.
func (lc *loggedPacketConn) SetReadBuffer(bytes int) error {
	if bs, ok := lc.conn.(transport.BufferSizer); ok {
		return bs.SetReadBuffer(bytes)
	}
	return nil
}

// SetWriteBuffer forwards to the wrapped socket if it supports resizing.
func (lc *loggedPacketConn) SetWriteBuffer(bytes int) error {
	if bs, ok := lc.conn.(transport.BufferSizer); ok {
		return bs.SetWriteBuffer(bytes)
	}
	return nil
}

// NewLoggedPacketConn wraps a datagram socket to log all datagrams read from
// and written to it. The log file is created or appended to at the specified
// path.
func NewLoggedPacketConn(conn transport.PacketConn, logFilePath string) (transport.PacketConn, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &loggedPacketConn{conn: conn, logFile: logFile}, nil
}
