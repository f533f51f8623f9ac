// Package server implements the chat relay: a TCP accept loop that turns
// inbound sockets into registered connections, a receive loop per
// connection, and an orderly shutdown that drains every peer.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server owns the Registry and Broadcaster shared by all accept loops.
type Server struct {
	cfg         Config
	log         *slog.Logger
	registry    *Registry
	broadcaster *Broadcaster

	mu        sync.Mutex
	closing   bool
	listeners map[net.Listener]struct{}
	http      *http.Server
	wg        sync.WaitGroup
	once      sync.Once
	done      chan struct{}
}

// NewServer creates a relay for cfg. Nothing is bound until Serve or
// ListenAndServe is called.
func NewServer(cfg Config, log *slog.Logger) *Server {
	registry := NewRegistry()
	return &Server{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, log, cfg.EvictOnWriteError),
		listeners:   make(map[net.Listener]struct{}),
		done:        make(chan struct{}),
	}
}

// Registry exposes the live connection set.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Broadcaster exposes the fan-out used by every receive loop.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Done is closed once Shutdown has finished draining.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Peers returns the live roster, oldest connection first.
func (s *Server) Peers() []PeerInfo {
	return s.registry.Peers()
}

// ListenAndServe binds the configured TCP address and serves it. A bind
// failure is returned immediately.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown, then returns
// ErrServerClosed. Accept failures are logged and retried with backoff.
func (s *Server) Serve(listener net.Listener) error {
	if !s.trackListener(listener) {
		_ = listener.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(listener)

	s.log.Info("Listening", "address", listener.Addr().String())

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			s.log.Warn("Accept failed; retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.log.Info("Accepted connection", "peer", conn.RemoteAddr().String(), "local", conn.LocalAddr().String())
		c := NewConnection(conn.RemoteAddr().String(), KindTCP, conn)
		if !s.attach(c) {
			continue
		}
		go s.run(c)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	current *= 2
	if current > maxAcceptBackoff {
		current = maxAcceptBackoff
	}
	return current
}

// attach registers c and reserves its receive loop in the wait group.
// It closes c and returns false when c cannot be served.
func (s *Server) attach(c *Connection) bool {
	c.withWriteTimeout(s.cfg.WriteTimeout).withRateLimit(s.cfg.RateLimit())

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = c.Close()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.registry.Add(c); err != nil {
		s.log.Warn("Rejected connection", "peer", c.ID(), "error", err)
		_ = c.Close()
		s.wg.Done()
		return false
	}
	s.log.Info("Ready to receive messages", "peer", c.ID(), "session", c.Session(), "kind", c.Kind(), "peers", s.registry.Len())
	return true
}

// run is the receive loop of an attached connection. It returns once the
// peer is gone and the connection has been deregistered and closed.
func (s *Server) run(c *Connection) {
	defer s.wg.Done()
	defer s.detach(c)

	c.receive(s.cfg.ReadBufferSize, s.log, func(msg []byte) {
		s.log.Debug("Relaying message", "peer", c.ID(), "bytes", len(msg))
		s.broadcaster.Broadcast(msg, c)
	})
}

func (s *Server) detach(c *Connection) {
	removed := s.registry.Remove(c)
	if err := c.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn("Error closing connection", "peer", c.ID(), "error", err)
	}
	if removed {
		s.log.Info("Connection removed", "peer", c.ID(), "session", c.Session(), "peers", s.registry.Len())
	}
}

func (s *Server) trackListener(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.listeners[l] = struct{}{}
	return true
}

func (s *Server) untrackListener(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown stops accepting, force-closes every registered connection, and
// waits up to timeout for their receive loops to finish. Closing the
// streams is what unblocks readers, so it never waits on a pending Read.
// It returns context.DeadlineExceeded when the timeout is reached.
func (s *Server) Shutdown(timeout time.Duration) error {
	var err error
	s.once.Do(func() {
		err = s.shutdown(timeout)
		close(s.done)
	})
	return err
}

func (s *Server) shutdown(timeout time.Duration) error {
	s.log.Info("Closing all connections...")

	s.mu.Lock()
	s.closing = true
	listeners := make([]net.Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	httpServer := s.http
	s.mu.Unlock()

	for _, l := range listeners {
		if err := l.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("Error closing listener", "address", l.Addr().String(), "error", err)
		}
	}
	if httpServer != nil {
		if err := httpServer.Close(); err != nil {
			s.log.Warn("Error closing WebSocket gateway", "error", err)
		}
	}

	members := s.registry.Close()
	for _, c := range members {
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("Error closing connection", "peer", c.ID(), "error", err)
		}
	}
	s.log.Info("Closed client connections", "count", len(members))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Shutdown completed")
		return nil
	case <-time.After(timeout):
		s.log.Warn("Shutdown timeout reached, some receive loops may still be running")
		return context.DeadlineExceeded
	}
}
