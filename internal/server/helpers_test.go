package server

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelWarn)
}

func testConfig() Config {
	cfg := NewConfig()
	cfg.Host = "127.0.0.1"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startServer runs a relay on a loopback port and shuts it down at cleanup.
func startServer(t *testing.T, mutate ...func(*Config)) (*Server, string) {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(cfg, testLogger())
	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
	})
	return srv, listener.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connectPeers dials n peers and waits until all of them are registered.
func connectPeers(t *testing.T, srv *Server, addr string, n int) []net.Conn {
	t.Helper()
	conns := make([]net.Conn, n)
	for i := range conns {
		conns[i] = dial(t, addr)
	}
	waitForPeers(t, srv, n)
	return conns
}

func waitForPeers(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Registry().Len() == n
	}, 2*time.Second, 5*time.Millisecond, "expected %d registered peers", n)
}

// readN reads until exactly want bytes arrived, regardless of how TCP split
// them across reads.
func readN(t *testing.T, conn net.Conn, want int) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, want)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

// expectSilence asserts nothing arrives on conn within d.
func expectSilence(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.Zero(t, n, "unexpected data: %q", string(buf[:n]))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

// expectClosed asserts the server closed conn within d.
func expectClosed(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 64)
	for {
		_, err := conn.Read(buf)
		if err == nil {
			continue
		}
		var netErr net.Error
		require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection still open after %s", d)
		return
	}
}

// readUntil reads from conn until want shows up in the received bytes.
func readUntil(t *testing.T, conn net.Conn, want string, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	var tail []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		tail = append(tail, buf[:n]...)
		if strings.Contains(string(tail), want) {
			return
		}
		require.NoError(t, err, "did not receive %q", want)
		if keep := len(want) - 1; len(tail) > keep {
			tail = tail[len(tail)-keep:]
		}
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeStream is an in-memory stream that records writes and detects
// overlapping Write calls.
type fakeStream struct {
	mu       sync.Mutex
	writes   []string
	writeErr error
	delay    time.Duration
	closed   bool

	inWrite  atomic.Bool
	overlaps atomic.Int64
	reads    chan readResult
}

type readResult struct {
	data string
	err  error
}

func newFakeStream() *fakeStream {
	return &fakeStream{reads: make(chan readResult, 16)}
}

func (f *fakeStream) Read(p []byte) (int, error) {
	r, ok := <-f.reads
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	return n, r.err
}

func (f *fakeStream) Write(p []byte) (int, error) {
	if !f.inWrite.CompareAndSwap(false, true) {
		f.overlaps.Add(1)
	}
	defer f.inWrite.Store(false)

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, string(p))
	return len(p), nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeStream) joined() string {
	return strings.Join(f.written(), "")
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func fakeConnection(id string) (*Connection, *fakeStream) {
	stream := newFakeStream()
	return NewConnection(id, KindTCP, stream), stream
}
