// Package client implements the chat client session: a send path that
// drains a local outbound queue onto the server socket and a receive path
// that forwards whatever arrives to a Transcript.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// ConnectionLostNotice is appended to the transcript when the server goes
// away while the user has not asked to leave.
const ConnectionLostNotice = "No. We have lost connection to the server!"

const (
	readBufferSize = 1024
	outboxSize     = 64
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("client: already started")
	// ErrClientClosed is returned by Start after Leave.
	ErrClientClosed = errors.New("client: closed")
)

// outbound is one entry of the local queue. The leave flag is the
// sentinel that stops the send path; text is never inspected for it.
type outbound struct {
	text  string
	raw   bool
	leave bool
}

// Client is one chat participant connected to a relay.
type Client struct {
	conn net.Conn
	log  *slog.Logger

	name       string
	transcript Transcript

	outbox   chan outbound
	sendDone chan struct{}
	recvDone chan struct{}

	mu       sync.Mutex
	started  bool
	left     bool
	leaving  atomic.Bool
	leaveMu  sync.Mutex
	leaveErr error
}

// Dial connects to the relay at addr.
func Dial(ctx context.Context, addr string, log *slog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return New(conn, log), nil
}

// New wraps an established connection. The Client owns conn afterwards.
func New(conn net.Conn, log *slog.Logger) *Client {
	return &Client{
		conn:     conn,
		log:      log,
		outbox:   make(chan outbound, outboxSize),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

// Name returns the display name given to Start.
func (c *Client) Name() string {
	return c.name
}

// Done is closed when the receive path stops, either because the server
// closed the connection or because the client left.
func (c *Client) Done() <-chan struct{} {
	return c.recvDone
}

// Start launches the send and receive paths and queues the join notice.
func (c *Client) Start(name string, transcript Transcript) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.left {
		return ErrClientClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.name = name
	c.transcript = transcript

	go c.sendLoop()
	go c.receiveLoop()

	c.outbox <- outbound{text: fmt.Sprintf("Server: %s has joined the chat.", name), raw: true}
	c.log.Info("Joined the chat", "name", name, "server", c.conn.RemoteAddr().String())
	return nil
}

// Send queues text for delivery as "<name>: <text>". It reports false when
// the client is leaving or the send path has stopped. A queued text always
// goes out before the leave notice.
func (c *Client) Send(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.left {
		return false
	}
	if !c.started {
		select {
		case c.outbox <- outbound{text: text}:
			return true
		default:
			return false
		}
	}
	select {
	case c.outbox <- outbound{text: text}:
		return true
	case <-c.sendDone:
		return false
	}
}

// Leave queues the leave sentinel, waits for the farewell notice to be
// flushed, closes the connection, and waits for the receive path. It is
// safe to call more than once.
func (c *Client) Leave() error {
	c.leaveMu.Lock()
	defer c.leaveMu.Unlock()

	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return c.leaveErr
	}
	c.left = true
	c.leaving.Store(true)
	started := c.started
	c.mu.Unlock()

	if started {
		select {
		case c.outbox <- outbound{leave: true}:
		case <-c.sendDone:
		}
		<-c.sendDone
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.leaveErr = err
	}
	if started {
		<-c.recvDone
	}
	c.log.Info("Left the chat", "name", c.name)
	return c.leaveErr
}

func (c *Client) sendLoop() {
	defer close(c.sendDone)
	for m := range c.outbox {
		payload := m.text
		switch {
		case m.leave:
			payload = fmt.Sprintf("Server: %s has left the chat.", c.name)
		case !m.raw:
			payload = fmt.Sprintf("%s: %s", c.name, m.text)
		}
		if _, err := io.WriteString(c.conn, payload); err != nil {
			c.log.Warn("Send failed", "error", err)
			return
		}
		if m.leave {
			return
		}
	}
}

func (c *Client) receiveLoop() {
	defer close(c.recvDone)
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.transcript.Append(string(buf[:n]))
		}
		if err == nil {
			continue
		}
		if c.leaving.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			c.log.Info("Server closed the connection")
		} else {
			c.log.Warn("Receive failed", "error", err)
		}
		c.transcript.Append(ConnectionLostNotice)
		return
	}
}
