// Package server wires the WebSocket gateway handlers into a ServeMux and
// runs the gateway's HTTP server.
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Routes returns the gateway mux: the WebSocket endpoint and a health check.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/ws", newWSHandler(s))
	return mux
}

// healthHandler responds with a plain text status and the live peer count.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat is running, %d peers connected", s.registry.Len())
}

// ListenAndServeWebSocket binds addr and serves the gateway on it.
func (s *Server) ListenAndServeWebSocket(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeWebSocket(listener)
}

// ServeWebSocket serves the gateway on listener until Shutdown, then
// returns ErrServerClosed. Only one gateway can run per Server.
func (s *Server) ServeWebSocket(listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	if s.http != nil {
		s.mu.Unlock()
		_ = listener.Close()
		return errors.New("relaychat: WebSocket gateway already running")
	}
	s.http = httpServer
	s.mu.Unlock()

	s.log.Info("WebSocket gateway listening", "address", listener.Addr().String())
	err := httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}
