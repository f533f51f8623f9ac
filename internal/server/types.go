// Package server defines the sentinel errors and small helpers shared by the
// connection, registry, and broadcast code.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrServerClosed is returned by the accept loops after Shutdown.
	ErrServerClosed = errors.New("relaychat: server closed")
	// ErrRegistryClosed is returned by Registry.Add once shutdown has drained it.
	ErrRegistryClosed = errors.New("relaychat: registry closed")
	// ErrDuplicateConnection is returned when a peer identity is already registered.
	ErrDuplicateConnection = errors.New("relaychat: connection already registered")
	// ErrConnectionClosed is returned by writes on a closed Connection.
	ErrConnectionClosed = errors.New("relaychat: connection closed")
)

// Transport kinds reported in PeerInfo.
const (
	KindTCP       = "tcp"
	KindWebSocket = "ws"
)

// PeerInfo is a read-only view of a registered Connection.
type PeerInfo struct {
	ID          string
	Session     uuid.UUID
	Kind        string
	ConnectedAt time.Time
}

// isExpectedCloseError reports whether err is the normal noise of a stream
// being torn down, as opposed to something worth a warning.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
