// Package server implements the listening side: it answers handshakes with
// stateless cookies and runs all accepted connections from Tick.
package server

import (
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/connection"
	"dominicbreuker/kcpnet/pkg/crypto"
	"dominicbreuker/kcpnet/pkg/engine"
	"dominicbreuker/kcpnet/pkg/log"
	"dominicbreuker/kcpnet/pkg/protocol"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Server accepts connections on one socket. It owns no goroutines: all
// socket I/O, timers and callbacks happen inside Tick.
type Server struct {
	cfg    config.Config
	engine *engine.Engine
	jar    *crypto.CookieJar
}

// New binds bindAddr (for example ":7777") and returns a server that
// reports to callback. deps may be nil.
func New(bindAddr string, cfg config.Config, callback connection.Callback, deps *config.Dependencies) (*Server, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	secret, err := crypto.NewSecret(config.GetRandReader(deps))
	if err != nil {
		return nil, fmt.Errorf("crypto.NewSecret(): %w", err)
	}

	network := cfg.Network(isIPv6Host(bindAddr))
	conn, err := config.GetPacketListenerFunc(deps)(network, bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen(%s, %s): %w", network, bindAddr, err)
	}

	return &Server{
		cfg:    cfg,
		engine: engine.New(conn, cfg, callback, config.GetNowFunc(deps)),
		jar:    crypto.NewCookieJar(secret),
	}, nil
}

func isIPv6Host(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	return strings.Contains(host, ":")
}

// LocalAddr is the bound address.
func (s *Server) LocalAddr() netip.AddrPort {
	return s.engine.LocalAddr()
}

// Tick runs TickIncoming followed by TickOutgoing.
func (s *Server) Tick() {
	s.TickIncoming()
	s.TickOutgoing()
}

// TickIncoming drains the socket, handles every datagram and delivers the
// resulting events to the callback before returning.
func (s *Server) TickIncoming() {
	s.engine.Drain(s.handleDatagram)
	s.engine.Dispatch()
}

// TickOutgoing flushes every connection, runs keepalive and timeout checks
// and delivers the resulting events. It then starts a new send budget
// period, so writes made between two calls share one budget.
func (s *Server) TickOutgoing() {
	s.engine.UpdateAll(s.engine.Now())
	s.engine.Dispatch()
	s.engine.BeginTick()
}

func (s *Server) handleDatagram(b []byte, from netip.AddrPort) {
	p, err := protocol.Decode(b)
	if err != nil {
		log.DebugMsg("dropping datagram from %s: %s\n", from, err)
		return
	}

	if conn := s.engine.Table().GetByAddr(from); conn != nil {
		if p.Cookie != conn.Cookie() {
			log.DebugMsg("dropping datagram from %s: cookie mismatch\n", from)
			return
		}
		if p.Type == protocol.Hello {
			// our accept got lost and the client repeats its response
			if p.Channel == protocol.Unreliable {
				if err := conn.SendHello(protocol.Reliable); err != nil {
					log.DebugMsg("%s: resending accept: %s\n", conn, err)
				}
			}
			return
		}
		conn.Receive(p)
		return
	}

	if p.Type != protocol.Hello || p.Channel != protocol.Unreliable {
		log.DebugMsg("dropping %s/%s from unknown peer %s\n", p.Type, p.Channel, from)
		return
	}

	now := s.engine.Now()
	if p.Cookie == 0 {
		cookie := s.jar.Issue(from, now)
		if err := s.engine.Write(protocol.Encode(protocol.Hello, protocol.Unreliable, cookie, nil), from); err != nil {
			log.DebugMsg("sending challenge to %s: %s\n", from, err)
		}
		return
	}

	if !s.jar.Verify(from, p.Cookie, now) {
		log.DebugMsg("dropping handshake from %s: invalid cookie\n", from)
		return
	}
	s.accept(from, p.Cookie)
}

func (s *Server) accept(from netip.AddrPort, cookie uint32) {
	conn, err := s.engine.NewConnection(from, cookie, connection.Handshaking)
	if err != nil {
		log.DebugMsg("accepting %s: %s\n", from, err)
		return
	}
	if err := conn.SendHello(protocol.Reliable); err != nil {
		log.DebugMsg("%s: sending accept: %s\n", conn, err)
	}
	if err := conn.Establish(); err != nil {
		log.ErrorMsg("%s: %s\n", conn, err)
		conn.Disconnect()
		return
	}
	log.DebugMsg("%s: connected\n", conn)
}

// Connection returns the connection with id, or nil.
func (s *Server) Connection(id uint64) *connection.Connection {
	return s.engine.Table().GetByID(id)
}

// Connections returns all live connections ordered by id.
func (s *Server) Connections() []*connection.Connection {
	return s.engine.Table().Snapshot()
}

// Send sends payload to connection id.
func (s *Server) Send(id uint64, payload []byte, channel protocol.Channel) error {
	conn := s.Connection(id)
	if conn == nil {
		return &connection.Error{Kind: connection.SendOnClosedConnection, Msg: fmt.Sprintf("connection %d", id)}
	}
	return conn.Send(payload, channel)
}

// Disconnect closes connection id. Unknown ids are ignored.
func (s *Server) Disconnect(id uint64) {
	if conn := s.Connection(id); conn != nil {
		conn.Disconnect()
	}
}

// Close disconnects every connection, delivers the final events and closes
// the socket.
func (s *Server) Close() error {
	s.engine.DisconnectAll()
	s.engine.Dispatch()
	return s.engine.Close()
}
