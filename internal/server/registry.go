// Package server keeps the set of live connections in a Registry, the only
// shared mutable state of the relay.
package server

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry is the synchronized set of live connections keyed by transport
// kind and peer address.
// A broadcast iterating a Snapshot sees each connection either fully
// present or fully absent.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool
}

// NewRegistry returns an empty, open Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Add registers c. It fails when the identity is already present or when
// the registry has been closed by shutdown.
func (r *Registry) Add(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.conns[c.key()]; exists {
		return ErrDuplicateConnection
	}
	r.conns[c.key()] = c
	return nil
}

// Remove deregisters c and reports whether it was present. Removing an
// absent connection, or a different one sharing the identity, is a no-op.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.conns[c.key()]
	if !exists || current != c {
		return false
	}
	delete(r.conns, c.key())
	return true
}

// Snapshot returns the current members in no particular order.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.conns)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// Peers returns PeerInfo for every member, oldest first.
func (r *Registry) Peers() []PeerInfo {
	peers := lo.Map(r.Snapshot(), func(c *Connection, _ int) PeerInfo {
		return c.Info()
	})
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].ConnectedAt.Equal(peers[j].ConnectedAt) {
			return peers[i].ID < peers[j].ID
		}
		return peers[i].ConnectedAt.Before(peers[j].ConnectedAt)
	})
	return peers
}

// Close empties the registry, rejects later Adds, and returns the members
// it held at that moment. Later calls return nil.
func (r *Registry) Close() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	members := lo.Values(r.conns)
	r.conns = make(map[string]*Connection)
	return members
}
