// Package server fans each received chunk out to every other registered
// connection via the Broadcaster type.
package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Delivery summarizes one Broadcast call.
type Delivery struct {
	Targets   int
	Delivered int
	Failed    int
}

// Broadcaster delivers messages to every registered connection except the
// one they came from.
type Broadcaster struct {
	registry *Registry
	log      *slog.Logger
	// evict removes a peer from the registry and closes it as soon as a
	// write to it fails, instead of waiting for its reader to notice.
	evict bool
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, log *slog.Logger, evictOnWriteError bool) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		log:      log,
		evict:    evictOnWriteError,
	}
}

// Broadcast writes msg to every member of the current snapshot except
// source. A nil source delivers to everyone. Writes to different peers run
// concurrently and Broadcast waits for all of them, so messages from one
// source leave in the order they arrived. A peer that stopped reading holds
// its senders for at most the write timeout; the timed out write then
// evicts it. A failed write never affects the other peers.
func (b *Broadcaster) Broadcast(msg []byte, source *Connection) Delivery {
	targets := b.targets(source)
	if len(targets) == 0 {
		return Delivery{}
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for _, peer := range targets {
		wg.Add(1)
		go func(peer *Connection) {
			defer wg.Done()
			if !b.deliver(peer, msg) {
				failed.Add(1)
			}
		}(peer)
	}
	wg.Wait()

	d := Delivery{Targets: len(targets), Failed: int(failed.Load())}
	d.Delivered = d.Targets - d.Failed
	b.log.Debug("Broadcast complete", "source", sourceID(source), "targets", d.Targets, "failed", d.Failed)
	return d
}

func (b *Broadcaster) targets(source *Connection) []*Connection {
	return lo.Filter(b.registry.Snapshot(), func(c *Connection, _ int) bool {
		return c != source
	})
}

func (b *Broadcaster) deliver(peer *Connection, msg []byte) bool {
	_, err := peer.Write(msg)
	if err == nil {
		return true
	}

	if isExpectedCloseError(err) {
		b.log.Info("Skipped closed peer", "peer", peer.ID(), "session", peer.Session())
	} else {
		b.log.Warn("Write failed", "peer", peer.ID(), "session", peer.Session(), "error", err)
	}
	if b.evict {
		b.evictPeer(peer)
	}
	return false
}

func (b *Broadcaster) evictPeer(peer *Connection) {
	if b.registry.Remove(peer) {
		b.log.Info("Peer evicted after failed write", "peer", peer.ID(), "remaining", b.registry.Len())
	}
	if err := peer.Close(); err != nil && !isExpectedCloseError(err) {
		b.log.Warn("Error closing evicted peer", "peer", peer.ID(), "error", err)
	}
}

func sourceID(source *Connection) string {
	if source == nil {
		return "server"
	}
	return source.ID()
}
