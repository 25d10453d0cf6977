package connection

import (
	"errors"
	"net/netip"
	"slices"
	"sync"
)

// ErrDuplicate is returned by Insert when the id or address is taken.
var ErrDuplicate = errors.New("connection already registered")

// Table indexes live connections by id and by remote address. Both indexes
// always agree. It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	byID   map[uint64]*Connection
	byAddr map[netip.AddrPort]*Connection
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byID:   make(map[uint64]*Connection),
		byAddr: make(map[netip.AddrPort]*Connection),
	}
}

// Insert adds c under its id and remote address.
func (t *Table) Insert(c *Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byID[c.ID()]; ok {
		return ErrDuplicate
	}
	if _, ok := t.byAddr[c.RemoteAddr()]; ok {
		return ErrDuplicate
	}
	t.byID[c.ID()] = c
	t.byAddr[c.RemoteAddr()] = c
	return nil
}

// Remove deletes c. Entries that point to another connection are left
// alone. It reports whether c was present.
func (t *Table) Remove(c *Connection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byID[c.ID()] != c {
		return false
	}
	delete(t.byID, c.ID())
	if t.byAddr[c.RemoteAddr()] == c {
		delete(t.byAddr, c.RemoteAddr())
	}
	return true
}

// GetByID returns the connection with id, or nil.
func (t *Table) GetByID(id uint64) *Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// GetByAddr returns the connection for addr, or nil.
func (t *Table) GetByAddr(addr netip.AddrPort) *Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byAddr[addr]
}

// Snapshot returns all connections ordered by id.
func (t *Table) Snapshot() []*Connection {
	t.mu.RLock()
	out := make([]*Connection, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, c)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Connection) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

// Len is the number of connections.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
