// Package server manages individual chat connections: the per-connection
// receive loop, serialized writes, and lifecycle control for each stream.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection represents one chat participant. It exclusively owns its
// stream; other components reach it only through Write and Close.
type Connection struct {
	id          string
	session     uuid.UUID
	kind        string
	stream      io.ReadWriteCloser
	connectedAt time.Time

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error

	budget    *chunkBudget
	rateLimit RateLimitConfig
}

// deadlineWriter is implemented by streams that support write deadlines,
// such as net.Conn.
type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// NewConnection wraps stream as a Connection identified by id, usually the
// peer address. The stream must not be used directly afterwards.
func NewConnection(id, kind string, stream io.ReadWriteCloser) *Connection {
	return &Connection{
		id:          id,
		session:     uuid.New(),
		kind:        kind,
		stream:      stream,
		connectedAt: time.Now(),
	}
}

// ID returns the peer address shown in logs and the roster.
func (c *Connection) ID() string {
	return c.id
}

// key is the Registry identity. The transport kind is part of it because
// one host may reach the TCP and WebSocket listeners from the same
// address.
func (c *Connection) key() string {
	return c.kind + "/" + c.id
}

// Session returns the per-connection id used for log correlation.
func (c *Connection) Session() uuid.UUID {
	return c.session
}

// Kind returns the transport kind, KindTCP or KindWebSocket.
func (c *Connection) Kind() string {
	return c.kind
}

// Alive reports whether the connection has not been closed yet.
func (c *Connection) Alive() bool {
	return !c.closed.Load()
}

// Info returns a read-only snapshot of the connection's identity.
func (c *Connection) Info() PeerInfo {
	return PeerInfo{
		ID:          c.id,
		Session:     c.session,
		Kind:        c.kind,
		ConnectedAt: c.connectedAt,
	}
}

func (c *Connection) withWriteTimeout(d time.Duration) *Connection {
	c.writeTimeout = d
	return c
}

func (c *Connection) withRateLimit(cfg RateLimitConfig) *Connection {
	if cfg.Burst <= 0 {
		return c
	}
	c.rateLimit = cfg
	c.budget = newChunkBudget(cfg)
	return c
}

// Write delivers p to the peer. Concurrent calls are serialized so that
// broadcasts from different sources never interleave on the same stream.
func (c *Connection) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return 0, ErrConnectionClosed
	}
	if c.writeTimeout > 0 {
		if dw, ok := c.stream.(deadlineWriter); ok {
			if err := dw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return 0, err
			}
		}
	}
	return c.stream.Write(p)
}

// Close closes the underlying stream. It is safe to call from any goroutine
// and any number of times; a receive loop blocked in Read is released.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

// allow reports whether an inbound chunk fits the optional rate limit.
func (c *Connection) allow() bool {
	return c.budget == nil || c.budget.take()
}

// receive runs the read loop until the stream ends. Every read that returns
// data is handed to deliver as one message, in arrival order; deliver must
// return before the next read so that per-source order holds.
func (c *Connection) receive(bufSize int, log *slog.Logger, deliver func(msg []byte)) {
	buf := make([]byte, bufSize)
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			if c.allow() {
				msg := make([]byte, n)
				copy(msg, buf[:n])
				log.Debug("Received chunk", "peer", c.id, "session", c.session, "bytes", n)
				deliver(msg)
			} else {
				log.Warn("Rate limit exceeded; discarding chunk",
					"peer", c.id, "burst", c.rateLimit.Burst, "interval", c.rateLimit.Interval)
			}
		}
		if err == nil {
			continue
		}
		c.logReadEnd(err, log)
		return
	}
}

func (c *Connection) logReadEnd(err error, log *slog.Logger) {
	switch {
	case errors.Is(err, io.EOF):
		log.Info("Peer closed the connection", "peer", c.id, "session", c.session)
	case isExpectedCloseError(err) || !c.Alive():
		log.Info("Connection closed", "peer", c.id, "session", c.session)
	default:
		log.Warn("Read failed", "peer", c.id, "session", c.session, "error", err)
	}
}
