// Package throttle bounds concurrent connections per source address. It
// complements, and is independent of, the per-connection message-rate cap
// applied in the session layer.
package throttle

import "sync"

// DefaultMaxPerIP is the connection ceiling per source address.
const DefaultMaxPerIP = 20

// IPGuard counts open connections per source address. A slot is acquired
// on accept and released on teardown; an address at the ceiling has any
// further attempt rejected outright.
type IPGuard struct {
	mu    sync.Mutex
	limit int
	conns map[string]int
}

// NewIPGuard creates a guard with the given per-address ceiling; zero or
// negative applies DefaultMaxPerIP.
func NewIPGuard(limit int) *IPGuard {
	if limit <= 0 {
		limit = DefaultMaxPerIP
	}
	return &IPGuard{
		limit: limit,
		conns: make(map[string]int),
	}
}

// Acquire claims a slot for addr. It returns false when the address is
// already at the ceiling; the caller must then close the connection
// without creating a session.
func (g *IPGuard) Acquire(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conns[addr] >= g.limit {
		return false
	}
	g.conns[addr]++
	return true
}

// Release frees a slot for addr. Callers pair it with a successful Acquire.
func (g *IPGuard) Release(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch n := g.conns[addr]; {
	case n > 1:
		g.conns[addr] = n - 1
	case n == 1:
		delete(g.conns, addr)
	}
}

// Active returns the open-connection count for addr.
func (g *IPGuard) Active(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[addr]
}
