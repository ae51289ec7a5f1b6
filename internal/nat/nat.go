// Package nat implements the relay's bidirectional NAT table: a peer
// (public) address/port plus an inner (tunnel-side) address/port maps to
// one relay-local port drawn from a fixed range, and back.
package nat

import (
	"fmt"
	"sync"

	"kale-tun-proxy/internal/lru"
)

// Endpoint is an IPv4 address and port pair.
type Endpoint struct {
	Addr [4]byte
	Port uint16
}

func (e Endpoint) key() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", e.Addr[0], e.Addr[1], e.Addr[2], e.Addr[3], e.Port)
}

// entry records one NAT mapping: a peer endpoint and the inner endpoint it
// was opened on behalf of.
type entry struct {
	peer  Endpoint
	inner Endpoint
}

func hostKey(peer, inner Endpoint) string {
	return peer.key() + "|" + inner.key()
}

// Table is a two-level NAT table for one transport protocol. It is bounded
// by [portMin, portMax]: AddEntry always evicts the least-recently-used
// port in that range and reassigns it, so the table never reports "full".
//
// Safe for concurrent use: every operation holds the table's mutex for the
// duration of the map/LRU access.
type Table struct {
	mu         sync.Mutex
	portMin    uint16
	lru        *lru.LRU
	hostToPort map[string]uint16
	portToHost map[uint16]entry
}

// New builds a Table covering the inclusive port range [portMin, portMax].
func New(portMin, portMax uint16) *Table {
	if portMax < portMin {
		panic("nat: portMax must be >= portMin")
	}
	size := int(portMax-portMin) + 1
	return &Table{
		portMin:    portMin,
		lru:        lru.New(size),
		hostToPort: make(map[string]uint16),
		portToHost: make(map[uint16]entry),
	}
}

// AddEntry allocates a relay-local port for the (peer, inner) pair,
// evicting whatever mapping currently owns the least-recently-used port in
// the range, and returns the allocated port.
func (t *Table) AddEntry(peer, inner Endpoint) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	port := t.portMin + uint16(t.lru.GetLRU())
	if old, ok := t.portToHost[port]; ok {
		delete(t.hostToPort, hostKey(old.peer, old.inner))
	}
	t.portToHost[port] = entry{peer: peer, inner: inner}
	t.hostToPort[hostKey(peer, inner)] = port
	return port
}

// Len reports how many relay-local ports currently hold a live mapping.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.portToHost)
}

// QueryPort looks up the relay-local port already allocated for (peer,
// inner), without affecting LRU order. Reports false if no mapping exists.
func (t *Table) QueryPort(peer, inner Endpoint) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	port, ok := t.hostToPort[hostKey(peer, inner)]
	return port, ok
}

// QueryHost looks up the (peer, inner) pair a relay-local port was
// allocated for, marking that port most-recently-used. Reports false if no
// mapping exists.
func (t *Table) QueryHost(port uint16) (peer, inner Endpoint, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, found := t.portToHost[port]
	if !found {
		return Endpoint{}, Endpoint{}, false
	}
	t.lru.Use(uint32(port - t.portMin))
	return e.peer, e.inner, true
}
