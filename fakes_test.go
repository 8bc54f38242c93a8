package chatsync

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. Frames pushed with Push are returned by
// Read; writes are recorded.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu          sync.Mutex
	writes      []string
	failErr     error
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.failErr != nil {
			return nil, c.failErr
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(frame))
	return nil
}

// Close records the first close frame the client sends, even after Fail.
func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closeCode == 0 {
		c.closeCode, c.closeReason = code, reason
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Fail simulates an abnormal close observed by the reader.
func (c *fakeConn) Fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.failErr = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *fakeConn) Push(frame string) { c.inbound <- []byte(frame) }

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) Pings() int {
	n := 0
	for _, w := range c.Writes() {
		if w == HeartbeatFrame {
			n++
		}
	}
	return n
}

func (c *fakeConn) CloseFrame() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// fakeTransport counts dials and hands out fakeConns.
type fakeTransport struct {
	mu        sync.Mutex
	urls      []string
	conns     []*fakeConn
	dialed    []string // url of each entry in conns
	err       error
	failPaths map[string]error
	block     chan struct{}
}

func (t *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	t.mu.Lock()
	t.urls = append(t.urls, url)
	err := t.err
	for path, perr := range t.failPaths {
		if strings.Contains(url, "/ws/"+path+"?") {
			err = perr
		}
	}
	block := t.block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.dialed = append(t.dialed, url)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.urls)
}

func (t *fakeTransport) URLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.urls...)
}

func (t *fakeTransport) SetErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Last returns the most recently dialed connection.
func (t *fakeTransport) Last(tb testing.TB) *fakeConn {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	require.NotEmpty(tb, t.conns, "no connection dialed")
	return t.conns[len(t.conns)-1]
}

// For returns the most recent connection dialed for endpoint path.
func (t *fakeTransport) For(tb testing.TB, path string) *fakeConn {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.conns) - 1; i >= 0; i-- {
		if strings.Contains(t.dialed[i], "/ws/"+path+"?") {
			return t.conns[i]
		}
	}
	tb.Fatalf("no connection dialed for %q", path)
	return nil
}

func testConfig(tr Transport, clk clock.Clock) RealtimeConfig {
	return RealtimeConfig{
		BaseURL:   "https://chat.example.com/",
		Tokens:    StaticToken("tok"),
		Transport: tr,
		Clock:     clk,
	}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func recvWithin[T any](tb testing.TB, ch <-chan T) T {
	tb.Helper()
	select {
	case v, ok := <-ch:
		require.True(tb, ok, "channel closed")
		return v
	case <-time.After(waitFor):
		tb.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}
