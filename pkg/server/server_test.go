package server

import (
	"bytes"
	"dominicbreuker/kcpnet/mocks"
	"dominicbreuker/kcpnet/pkg/client"
	"dominicbreuker/kcpnet/pkg/config"
	"dominicbreuker/kcpnet/pkg/connection"
	"dominicbreuker/kcpnet/pkg/crypto"
	"dominicbreuker/kcpnet/pkg/protocol"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"
)

type recorded struct {
	conn *connection.Connection
	ev   connection.Event
}

// recorder collects callback events.
type recorder struct {
	mu     sync.Mutex
	events []recorded
	onData func(conn *connection.Connection, ev connection.Event)
}

func (r *recorder) callback(conn *connection.Connection, ev connection.Event) {
	r.mu.Lock()
	r.events = append(r.events, recorded{conn: conn, ev: ev})
	onData := r.onData
	r.mu.Unlock()

	if ev.Type == connection.EventData && onData != nil {
		onData(conn, ev)
	}
}

func (r *recorder) ofType(t connection.EventType) []connection.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []connection.Event
	for _, rec := range r.events {
		if rec.ev.Type == t {
			out = append(out, rec.ev)
		}
	}
	return out
}

func (r *recorder) all() []connection.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]connection.Event, 0, len(r.events))
	for _, rec := range r.events {
		out = append(out, rec.ev)
	}
	return out
}

type ticker interface {
	Tick()
}

// tickUntil ticks all engines until cond holds or timeout passes.
func tickUntil(t *testing.T, timeout time.Duration, cond func() bool, engines ...ticker) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		for _, e := range engines {
			e.Tick()
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type pair struct {
	network   *mocks.MockUDPNetwork
	srv       *Server
	cli       *client.Client
	srvEvents *recorder
	cliEvents *recorder
}

func newPair(t *testing.T, cfg config.Config, now config.NowFunc) *pair {
	t.Helper()

	p := &pair{
		network:   mocks.NewMockUDPNetwork(),
		srvEvents: &recorder{},
		cliEvents: &recorder{},
	}
	deps := &config.Dependencies{
		PacketListener: p.network.ListenPacket,
		Now:            now,
		Rand:           crypto.SeededReader(t.Name()),
	}

	var err error
	p.srv, err = New("127.0.0.1:7777", cfg, p.srvEvents.callback, deps)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	t.Cleanup(func() { p.srv.Close() })

	p.cli, err = client.New(cfg, p.cliEvents.callback, deps)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { p.cli.Close() })

	return p
}

func (p *pair) connect(t *testing.T) {
	t.Helper()
	if err := p.cli.Connect(p.srv.LocalAddr().String()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tickUntil(t, 5*time.Second, func() bool {
		return len(p.cliEvents.ofType(connection.EventConnected)) == 1 &&
			len(p.srvEvents.ofType(connection.EventConnected)) == 1
	}, p.srv, p.cli)
}

func TestNew(t *testing.T) {
	t.Parallel()

	network := mocks.NewMockUDPNetwork()
	deps := &config.Dependencies{PacketListener: network.ListenPacket}

	s, err := New("127.0.0.1:7000", config.Default(), nil, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := s.LocalAddr(); got != netip.MustParseAddrPort("127.0.0.1:7000") {
		t.Errorf("LocalAddr() = %v, want 127.0.0.1:7000", got)
	}

	if _, err := New("127.0.0.1:7000", config.Default(), nil, deps); err == nil {
		t.Error("New() on a bound address error = nil, want error")
	}

	bad := config.Default()
	bad.MTU = 1
	if _, err := New("127.0.0.1:7001", bad, nil, deps); err == nil {
		t.Error("New() with invalid config error = nil, want error")
	}
}

func TestServer_EchoOverMockNetwork(t *testing.T) {
	t.Parallel()

	p := newPair(t, config.Default(), nil)
	p.srvEvents.onData = func(conn *connection.Connection, ev connection.Event) {
		if err := p.srv.Send(ev.ConnID, ev.Data, ev.Channel); err != nil {
			t.Errorf("echo Send() error = %v", err)
		}
	}
	p.connect(t)

	connected := p.srvEvents.ofType(connection.EventConnected)[0]
	k := connected.ConnID
	if p.srv.Connection(k) == nil {
		t.Fatalf("Connection(%d) = nil after Connected", k)
	}

	msg := []byte("Hello, Server!")
	if err := p.cli.Send(msg, protocol.Reliable); err != nil {
		t.Fatalf("client Send() error = %v", err)
	}
	tickUntil(t, 5*time.Second, func() bool {
		return len(p.cliEvents.ofType(connection.EventData)) == 1
	}, p.srv, p.cli)

	srvData := p.srvEvents.ofType(connection.EventData)
	if len(srvData) != 1 {
		t.Fatalf("server Data events = %d, want 1", len(srvData))
	}
	if srvData[0].ConnID != k || srvData[0].Channel != protocol.Reliable || !bytes.Equal(srvData[0].Data, msg) {
		t.Errorf("server Data = {%d %v %q}, want {%d Reliable %q}", srvData[0].ConnID, srvData[0].Channel, srvData[0].Data, k, msg)
	}

	cliData := p.cliEvents.ofType(connection.EventData)[0]
	if !bytes.Equal(cliData.Data, msg) {
		t.Errorf("client Data = %q, want %q", cliData.Data, msg)
	}
}

func TestServer_EchoOverLoopback(t *testing.T) {
	t.Parallel()

	srvEvents := &recorder{}
	cliEvents := &recorder{}

	srv, err := New("127.0.0.1:0", config.Default(), srvEvents.callback, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close()
	srvEvents.onData = func(conn *connection.Connection, ev connection.Event) {
		conn.Send(ev.Data, ev.Channel)
	}

	cli, err := client.New(config.Default(), cliEvents.callback, nil)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer cli.Close()

	if err := cli.Connect(srv.LocalAddr().String()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tickUntil(t, 5*time.Second, func() bool {
		return len(cliEvents.ofType(connection.EventConnected)) == 1
	}, srv, cli)

	if err := cli.Send([]byte("Hello, Server!"), protocol.Reliable); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	tickUntil(t, 5*time.Second, func() bool {
		return len(cliEvents.ofType(connection.EventData)) == 1
	}, srv, cli)

	if got := cliEvents.ofType(connection.EventData)[0].Data; string(got) != "Hello, Server!" {
		t.Errorf("echo = %q, want %q", got, "Hello, Server!")
	}
}

func TestServer_AntiSpoof(t *testing.T) {
	t.Parallel()

	p := newPair(t, config.Default(), nil)
	srvAddr := p.srv.LocalAddr()

	// a spoofer that can see the challenge for its own address
	observer, err := p.network.ListenPacket("udp", "127.0.0.1:9999")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	p.network.Inject(protocol.Encode(protocol.Hello, protocol.Unreliable, 0, nil), observer.LocalAddr(), srvAddr)
	p.srv.Tick()

	buf := make([]byte, 64)
	n, _, err := observer.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no challenge: %v", err)
	}
	if n != protocol.Overhead {
		t.Errorf("challenge is %d bytes, want %d", n, protocol.Overhead)
	}
	challenge, err := protocol.Decode(buf[:n])
	if err != nil || challenge.Type != protocol.Hello || challenge.Cookie == 0 {
		t.Fatalf("challenge = %+v (%v)", challenge, err)
	}

	for i := 0; i < 500; i++ {
		from := netip.AddrPortFrom(netip.AddrFrom4([4]byte{203, 0, 113, byte(i)}), uint16(1000+i))
		// wrong cookies
		p.network.Inject(protocol.Encode(protocol.Hello, protocol.Unreliable, uint32(i+1), nil), from, srvAddr)
		// a valid cookie, but for another address
		p.network.Inject(protocol.Encode(protocol.Hello, protocol.Unreliable, challenge.Cookie, nil), from, srvAddr)
		// data without any handshake
		p.network.Inject(protocol.Encode(protocol.Data, protocol.Unreliable, challenge.Cookie, []byte("x")), from, srvAddr)
		// garbage
		p.network.Inject([]byte{0xff, 1, 2}, from, srvAddr)
	}
	for i := 0; i < 10; i++ {
		p.srv.Tick()
	}

	if got := len(p.srv.Connections()); got != 0 {
		t.Errorf("Connections() = %d after spoofed handshakes, want 0", got)
	}
	if got := p.srvEvents.all(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

// isReliableData reports whether a datagram carries ARQ segments.
func isReliableData(data []byte) bool {
	return len(data) > 0 && data[0] == protocol.EncodeHeader(protocol.Data, protocol.Reliable)
}

func TestServer_ReliableOrderingUnderFaults(t *testing.T) {
	t.Parallel()

	p := newPair(t, config.Default(), nil)
	p.connect(t)

	var mu sync.Mutex
	counter := 0
	p.network.SetFault(func(from, to netip.AddrPort, data []byte) mocks.Action {
		if !isReliableData(data) {
			return mocks.Deliver
		}
		mu.Lock()
		defer mu.Unlock()
		counter++
		switch {
		case counter%5 == 0:
			return mocks.Drop
		case counter%7 == 0:
			return mocks.Duplicate
		case counter%3 == 0:
			return mocks.Hold
		}
		return mocks.Deliver
	})

	const count = 100
	for i := 0; i < count; i++ {
		if err := p.cli.Send([]byte(fmt.Sprintf("payload-%03d", i)), protocol.Reliable); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	tickUntil(t, 10*time.Second, func() bool {
		return len(p.srvEvents.ofType(connection.EventData)) >= count
	}, p.srv, p.cli)

	// give stray duplicates a chance to show up
	for i := 0; i < 50; i++ {
		p.srv.Tick()
		p.cli.Tick()
	}

	got := p.srvEvents.ofType(connection.EventData)
	if len(got) != count {
		t.Fatalf("Data events = %d, want exactly %d", len(got), count)
	}
	for i, ev := range got {
		if want := fmt.Sprintf("payload-%03d", i); string(ev.Data) != want || ev.Channel != protocol.Reliable {
			t.Errorf("event %d = %q on %v, want %q on Reliable", i, ev.Data, ev.Channel, want)
		}
	}
}

func TestServer_UnreliableAtMostOnce(t *testing.T) {
	t.Parallel()

	p := newPair(t, config.Default(), nil)
	p.connect(t)

	dataHeader := protocol.EncodeHeader(protocol.Data, protocol.Unreliable)
	var mu sync.Mutex
	counter := 0
	p.network.SetFault(func(from, to netip.AddrPort, data []byte) mocks.Action {
		if len(data) == 0 || data[0] != dataHeader {
			return mocks.Deliver
		}
		mu.Lock()
		defer mu.Unlock()
		counter++
		switch counter % 4 {
		case 0:
			return mocks.Drop
		case 2:
			return mocks.Hold
		}
		return mocks.Deliver
	})

	const count = 200
	sent := map[string]bool{}
	for i := 0; i < count; i++ {
		msg := fmt.Sprintf("u-%d-%s", i, bytes.Repeat([]byte{'z'}, i%50))
		sent[msg] = true
		if err := p.cli.Send([]byte(msg), protocol.Unreliable); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 20; i++ {
		p.srv.Tick()
		p.cli.Tick()
	}

	seen := map[string]int{}
	for _, ev := range p.srvEvents.ofType(connection.EventData) {
		if ev.Channel != protocol.Unreliable {
			t.Errorf("Data on %v, want Unreliable", ev.Channel)
		}
		s := string(ev.Data)
		if !sent[s] {
			t.Errorf("received %q which was never sent", s)
		}
		seen[s]++
	}
	for s, n := range seen {
		if n > 1 {
			t.Errorf("%q delivered %d times", s, n)
		}
	}
	if len(seen) == 0 || len(seen) == count {
		t.Errorf("delivered %d of %d with a lossy network", len(seen), count)
	}
}

func TestServer_Timeout(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := config.Default()
	p := newPair(t, cfg, clock.Now)
	p.connect(t)

	k := p.srvEvents.ofType(connection.EventConnected)[0].ConnID

	// the client goes silent
	clock.Advance(cfg.Timeout)
	p.srv.Tick()
	if got := len(p.srv.Connections()); got != 1 {
		t.Fatalf("Connections() at exactly timeout = %d, want 1", got)
	}

	clock.Advance(time.Millisecond)
	for i := 0; i < 5; i++ {
		p.srv.Tick()
		clock.Advance(cfg.Interval)
	}

	disconnected := p.srvEvents.ofType(connection.EventDisconnected)
	if len(disconnected) != 1 || disconnected[0].ConnID != k {
		t.Fatalf("Disconnected events = %v, want one for %d", disconnected, k)
	}
	if got := len(p.srv.Connections()); got != 0 {
		t.Errorf("Connections() = %d after timeout, want 0", got)
	}
	if p.srv.Connection(k) != nil {
		t.Errorf("Connection(%d) still present", k)
	}

	all := p.srvEvents.all()
	if last := all[len(all)-1]; last.Type != connection.EventDisconnected {
		t.Errorf("last event = %v, want Disconnected", last.Type)
	}
	for _, ev := range p.srvEvents.ofType(connection.EventError) {
		t.Errorf("unexpected error event %v", ev.Err)
	}

	if err := p.srv.Send(k, []byte("late"), protocol.Reliable); !errors.Is(err, connection.ErrSendOnClosedConnection) {
		t.Errorf("Send() to timed out connection error = %v, want %v", err, connection.ErrSendOnClosedConnection)
	}
}

func TestServer_FatalRetransmit(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.MaxRetransmits = 3
	cfg.Timeout = 60 * time.Second
	p := newPair(t, cfg, nil)
	p.connect(t)

	srvAddr := p.srv.LocalAddr()
	// every acknowledgment from the server is lost
	p.network.SetFault(func(from, to netip.AddrPort, data []byte) mocks.Action {
		if from == srvAddr {
			return mocks.Drop
		}
		return mocks.Deliver
	})

	if err := p.cli.Send([]byte("doomed"), protocol.Reliable); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	tickUntil(t, 20*time.Second, func() bool {
		return len(p.cliEvents.ofType(connection.EventDisconnected)) > 0
	}, p.srv, p.cli)

	var tail []connection.Event
	for _, ev := range p.cliEvents.all() {
		if ev.Type == connection.EventError || ev.Type == connection.EventDisconnected {
			tail = append(tail, ev)
		}
	}
	if len(tail) != 2 || tail[0].Type != connection.EventError || tail[1].Type != connection.EventDisconnected {
		t.Fatalf("client events = %v, want [Error Disconnected]", tail)
	}
	if !errors.Is(tail[0].Err, connection.ErrRetransmitLimitExceeded) {
		t.Errorf("error = %v, want %v", tail[0].Err, connection.ErrRetransmitLimitExceeded)
	}
	if got := p.cli.Connection().State(); got != connection.Disconnected {
		t.Errorf("client State() = %v, want %v", got, connection.Disconnected)
	}

	// nothing follows the disconnect
	before := len(p.cliEvents.all())
	for i := 0; i < 20; i++ {
		p.cli.Tick()
	}
	if after := len(p.cliEvents.all()); after != before {
		t.Errorf("%d events after Disconnected", after-before)
	}
}

func TestServer_LostAccept(t *testing.T) {
	t.Parallel()

	p := newPair(t, config.Default(), nil)

	accept := protocol.EncodeHeader(protocol.Hello, protocol.Reliable)
	var mu sync.Mutex
	dropped := 0
	p.network.SetFault(func(from, to netip.AddrPort, data []byte) mocks.Action {
		mu.Lock()
		defer mu.Unlock()
		if len(data) > 0 && data[0] == accept && dropped < 2 {
			dropped++
			return mocks.Drop
		}
		return mocks.Deliver
	})

	p.connect(t)

	if got := len(p.srv.Connections()); got != 1 {
		t.Errorf("Connections() = %d, want 1", got)
	}
	if dropped != 2 {
		t.Errorf("dropped %d accepts, want 2", dropped)
	}
}

func TestServer_DisconnectReachesClient(t *testing.T) {
	t.Parallel()

	p := newPair(t, config.Default(), nil)
	p.connect(t)

	k := p.srvEvents.ofType(connection.EventConnected)[0].ConnID
	p.srv.Disconnect(k)
	p.srv.Disconnect(k)

	tickUntil(t, 5*time.Second, func() bool {
		return len(p.cliEvents.ofType(connection.EventDisconnected)) == 1
	}, p.srv, p.cli)

	if got := len(p.srvEvents.ofType(connection.EventDisconnected)); got != 1 {
		t.Errorf("server Disconnected events = %d, want 1", got)
	}
	if err := p.cli.Send([]byte("x"), protocol.Unreliable); !errors.Is(err, connection.ErrSendOnClosedConnection) {
		t.Errorf("client Send() after disconnect error = %v, want %v", err, connection.ErrSendOnClosedConnection)
	}
}

func TestServer_SplitTick(t *testing.T) {
	t.Parallel()

	p := newPair(t, config.Default(), nil)
	p.connect(t)

	if err := p.cli.Send([]byte("split"), protocol.Reliable); err != nil {
		t.Fatalf("client Send() error = %v", err)
	}

	// only the incoming half reads from the socket
	deadline := time.Now().Add(5 * time.Second)
	for len(p.srvEvents.ofType(connection.EventData)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no Data event before deadline")
		}
		p.cli.TickOutgoing()
		p.srv.TickOutgoing()
		if got := len(p.srvEvents.ofType(connection.EventData)); got != 0 {
			t.Fatalf("TickOutgoing() delivered %d Data events, want 0", got)
		}
		p.srv.TickIncoming()
		time.Sleep(time.Millisecond)
	}

	if got := p.srvEvents.ofType(connection.EventData)[0].Data; string(got) != "split" {
		t.Errorf("server Data = %q, want %q", got, "split")
	}
}

func TestServer_ManyClients(t *testing.T) {
	t.Parallel()

	network := mocks.NewMockUDPNetwork()
	deps := &config.Dependencies{PacketListener: network.ListenPacket}
	srvEvents := &recorder{}
	srv, err := New("127.0.0.1:7777", config.Default(), srvEvents.callback, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close()

	engines := []ticker{srv}
	var clients []*client.Client
	for i := 0; i < 10; i++ {
		cli, err := client.New(config.Default(), nil, deps)
		if err != nil {
			t.Fatalf("client.New() error = %v", err)
		}
		defer cli.Close()
		if err := cli.Connect("127.0.0.1:7777"); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		clients = append(clients, cli)
		engines = append(engines, cli)
	}

	tickUntil(t, 5*time.Second, func() bool {
		return len(srv.Connections()) == len(clients)
	}, engines...)

	ids := map[uint64]bool{}
	for _, c := range srv.Connections() {
		if ids[c.ID()] {
			t.Errorf("duplicate id %d", c.ID())
		}
		ids[c.ID()] = true
		if srv.Connection(c.ID()) != c {
			t.Errorf("Connection(%d) disagrees with Connections()", c.ID())
		}
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if got := len(srvEvents.ofType(connection.EventDisconnected)); got != len(clients) {
		t.Errorf("Disconnected events after Close = %d, want %d", got, len(clients))
	}
}
