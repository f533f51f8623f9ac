// Package server adapts WebSocket peers into ordinary connections so that
// browser clients share the Registry and Broadcaster with TCP clients.
package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream presents a WebSocket as a byte stream. Each data frame is
// consumed across as many Reads as the caller's buffer requires, and each
// Write becomes one text frame.
type wsStream struct {
	conn    *websocket.Conn
	pending []byte
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (w *wsStream) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return 0, io.EOF
			}
			return 0, err
		}
		w.pending = data
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) Close() error {
	return w.conn.Close()
}

// SetWriteDeadline lets Connection apply its write timeout to WebSocket peers.
func (w *wsStream) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

type wsHandler struct {
	server   *Server
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func newWSHandler(s *Server) *wsHandler {
	origins := newOriginPolicy(s.cfg.AllowedOrigins(), s.log)
	return &wsHandler{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		log: s.log,
	}
}

// ServeHTTP upgrades GET requests and runs the receive loop of the new
// connection on the handler goroutine.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "peer", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(h.server.cfg.WebSocketMaxMessageSize)

	h.log.Info("Accepted WebSocket connection", "peer", r.RemoteAddr)
	c := NewConnection(r.RemoteAddr, KindWebSocket, newWSStream(conn))
	if !h.server.attach(c) {
		return
	}
	h.server.run(c)
}
