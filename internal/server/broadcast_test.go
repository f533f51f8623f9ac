package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBroadcaster(t *testing.T, evict bool, ids ...string) (*Broadcaster, *Registry, []*Connection, []*fakeStream) {
	t.Helper()
	registry := NewRegistry()
	conns := make([]*Connection, len(ids))
	streams := make([]*fakeStream, len(ids))
	for i, id := range ids {
		conns[i], streams[i] = fakeConnection(id)
		require.NoError(t, registry.Add(conns[i]))
	}
	return NewBroadcaster(registry, testLogger(), evict), registry, conns, streams
}

func TestBroadcast_Excludes_Source(t *testing.T) {
	req := require.New(t)
	b, _, conns, streams := newTestBroadcaster(t, true, "alice", "bob", "carol")

	// When alice broadcasts
	d := b.Broadcast([]byte("Alice: hello"), conns[0])

	// Then everyone but alice receives it exactly once
	req.Equal(Delivery{Targets: 2, Delivered: 2}, d)
	req.Empty(streams[0].written())
	req.Equal([]string{"Alice: hello"}, streams[1].written())
	req.Equal([]string{"Alice: hello"}, streams[2].written())
}

func TestBroadcast_Nil_Source_Reaches_Everyone(t *testing.T) {
	req := require.New(t)
	b, _, _, streams := newTestBroadcaster(t, true, "alice", "bob")

	d := b.Broadcast([]byte("Server: notice"), nil)

	req.Equal(2, d.Delivered)
	for _, s := range streams {
		req.Equal([]string{"Server: notice"}, s.written())
	}
}

func TestBroadcast_Empty_Registry(t *testing.T) {
	req := require.New(t)
	b, _, conns, _ := newTestBroadcaster(t, true, "alice")

	req.Equal(Delivery{}, b.Broadcast([]byte("hello?"), conns[0]))
}

func TestBroadcast_Write_Failure_Is_Isolated_And_Evicts(t *testing.T) {
	req := require.New(t)
	b, registry, conns, streams := newTestBroadcaster(t, true, "alice", "bob", "carol", "dave")

	// Given carol's socket fails on write
	streams[2].writeErr = errors.New("connection reset by peer")

	// When alice broadcasts
	d := b.Broadcast([]byte("Alice: hello"), conns[0])

	// Then bob and dave still receive the message
	req.Equal(Delivery{Targets: 3, Delivered: 2, Failed: 1}, d)
	req.Equal([]string{"Alice: hello"}, streams[1].written())
	req.Equal([]string{"Alice: hello"}, streams[3].written())

	// And carol is evicted and closed
	req.Equal(3, registry.Len())
	req.NotContains(registry.Snapshot(), conns[2])
	req.True(streams[2].isClosed())
	req.False(conns[2].Alive())

	// And the next broadcast no longer targets carol
	d = b.Broadcast([]byte("Alice: again"), conns[0])
	req.Equal(Delivery{Targets: 2, Delivered: 2}, d)
}

func TestBroadcast_Write_Failure_Without_Eviction(t *testing.T) {
	req := require.New(t)
	b, registry, conns, streams := newTestBroadcaster(t, false, "alice", "bob", "carol")
	streams[1].writeErr = errors.New("broken pipe")

	d := b.Broadcast([]byte("Alice: hello"), conns[0])

	// The reader of bob is left to detect the dead peer
	req.Equal(1, d.Failed)
	req.Equal(3, registry.Len())
	req.False(streams[1].isClosed())
	req.Equal([]string{"Alice: hello"}, streams[2].written())
}

func TestBroadcast_Closed_Peer_Counts_As_Failed(t *testing.T) {
	req := require.New(t)
	b, _, conns, streams := newTestBroadcaster(t, false, "alice", "bob")
	req.NoError(conns[1].Close())

	d := b.Broadcast([]byte("Alice: hello"), conns[0])

	req.Equal(1, d.Failed)
	req.Empty(streams[1].written())
}

func TestBroadcast_Slow_Peer_Does_Not_Delay_Others(t *testing.T) {
	req := require.New(t)
	b, _, conns, streams := newTestBroadcaster(t, true, "alice", "slow", "fast")
	streams[1].delay = 300 * time.Millisecond

	done := make(chan Delivery, 1)
	go func() { done <- b.Broadcast([]byte("Alice: hello"), conns[0]) }()

	// The fast peer is served while the slow one is still writing
	req.Eventually(func() bool {
		return len(streams[2].written()) == 1
	}, 150*time.Millisecond, 5*time.Millisecond)
	req.Empty(streams[1].written())

	d := <-done
	req.Equal(2, d.Delivered)
	req.Equal([]string{"Alice: hello"}, streams[1].written())
}

func TestBroadcast_Preserves_Order_From_One_Source(t *testing.T) {
	req := require.New(t)
	b, _, conns, streams := newTestBroadcaster(t, true, "alice", "bob", "carol")

	for _, m := range []string{"m1", "m2", "m3"} {
		b.Broadcast([]byte(m), conns[0])
	}

	req.Equal([]string{"m1", "m2", "m3"}, streams[1].written())
	req.Equal([]string{"m1", "m2", "m3"}, streams[2].written())
}

func TestBroadcast_Serializes_Writes_Per_Destination(t *testing.T) {
	req := require.New(t)
	b, _, conns, streams := newTestBroadcaster(t, true, "alice", "bob", "carol")
	streams[2].delay = time.Millisecond

	// When alice and bob broadcast concurrently to carol
	var wg sync.WaitGroup
	for _, source := range conns[:2] {
		wg.Add(1)
		go func(source *Connection) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				b.Broadcast([]byte(source.ID()), source)
			}
		}(source)
	}
	wg.Wait()

	// Then carol never saw two writes at once
	req.Zero(streams[2].overlaps.Load())
	req.Len(streams[2].written(), 40)
}
