package chatsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// wsServer accepts one realtime connection per request on /ws/messages,
// sends greeting, answers pings and reports how the client closed.
type wsServer struct {
	greeting string
	pings    chan struct{}
	closed   chan websocket.CloseError
}

func (s *wsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws/messages" || r.URL.Query().Get("token") != "tok" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	if s.greeting != "" {
		if err := conn.Write(ctx, websocket.MessageText, []byte(s.greeting)); err != nil {
			return
		}
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				s.closed <- ce
			}
			return
		}
		if string(data) == HeartbeatFrame {
			select {
			case s.pings <- struct{}{}:
			default:
			}
			conn.Write(ctx, websocket.MessageText, []byte(heartbeatReply)) //nolint:errcheck
		}
	}
}

func TestWebSocketTransport_EndToEnd(t *testing.T) {
	srv := &wsServer{
		greeting: `{"type":"NEW_MESSAGE","data":{"id":"m1","conversationId":"c1","content":"hello"}}`,
		pings:    make(chan struct{}, 1),
		closed:   make(chan websocket.CloseError, 1),
	}
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	mc := NewMessagingChannel(RealtimeConfig{
		BaseURL:           hs.URL,
		Tokens:            StaticToken("tok"),
		HeartbeatInterval: 50 * time.Millisecond,
	})
	t.Cleanup(mc.Close)
	all, cancelAll := mc.All().Subscribe(context.Background())
	defer cancelAll()
	msgs, cancel := mc.NewMessages().Subscribe(context.Background())
	defer cancel()

	require.NoError(t, mc.Connect(context.Background()))
	assert.Equal(t, Connected, mc.State())

	env := recvWithin(t, msgs)
	assert.Equal(t, "hello", env.Payload.(*Message).Content)
	assert.Equal(t, TypeNewMessage, recvWithin(t, all).Type)

	recvWithin(t, srv.pings)
	assert.Never(t, func() bool { return len(all) > 0 }, 150*time.Millisecond, tick, "pong must not surface as an envelope")

	mc.Disconnect()
	ce := recvWithin(t, srv.closed)
	assert.Equal(t, websocket.StatusNormalClosure, ce.Code)
	assert.Equal(t, CloseReasonClientEnd, ce.Reason)
	assert.Equal(t, Disconnected, mc.State())
}

func TestWebSocketTransport_HandshakeRejected(t *testing.T) {
	hs := httptest.NewServer(&wsServer{})
	t.Cleanup(hs.Close)

	tr := &WebSocketTransport{}
	_, err := tr.Dial(context.Background(), "ws"+hs.URL[len("http"):]+"/ws/messages?token=wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
