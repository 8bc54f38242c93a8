package chatsync

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Close parameters for an intentional disconnect.
const (
	CloseNormal          = 1000
	CloseReasonClientEnd = "Client disconnect"
)

// Close parameters for releasing a connection that already dropped. Only
// Disconnect sends CloseNormal.
const (
	CloseGoingAway      = 1001
	CloseReasonConnLost = "Connection lost"
)

// HeartbeatFrame is the literal liveness probe. It is not an envelope.
const HeartbeatFrame = "ping"

// heartbeatReply is the server's answer to HeartbeatFrame.
const heartbeatReply = "pong"

// Transport opens realtime connections.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one open realtime connection carrying UTF-8 text frames.
// Write may be called concurrently with Read.
type Conn interface {
	// Read blocks for the next text frame.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(code int, reason string) error
}

// WebSocketTransport dials with nhooyr.io/websocket.
type WebSocketTransport struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	var opts *websocket.DialOptions
	if t.HTTPClient != nil {
		opts = &websocket.DialOptions{HTTPClient: t.HTTPClient}
	}
	// The handshake response body is owned by the library.
	conn, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if t.ReadLimit > 0 {
		conn.SetReadLimit(t.ReadLimit)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
