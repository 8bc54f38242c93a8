package chatsync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 5 * time.Second
)

// RealtimeConfig configures channel connections. The zero value of every
// field except BaseURL and Tokens has a usable default.
type RealtimeConfig struct {
	// BaseURL is the backend root, e.g. "https://chat.example.com/".
	// http(s) schemes are rewritten to ws(s).
	BaseURL string
	Tokens  TokenResolver

	Transport         Transport
	Clock             clock.Clock
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed wait before every automatic reconnect.
	// There is no backoff and no attempt limit.
	ReconnectDelay time.Duration
	StreamBuffer   int
	Logger         *zap.Logger
	Metrics        *Metrics
}

func (c *RealtimeConfig) defaults() {
	if c.Transport == nil {
		c.Transport = &WebSocketTransport{}
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Tokens == nil {
		c.Tokens = StaticToken("")
	}
}

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState is the lifecycle state of one channel connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// task is a background job whose exit can be awaited.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newTask() (*task, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &task{cancel: cancel, done: make(chan struct{})}, ctx
}

// stop cancels the task and waits for it to exit. Safe on nil and safe to
// call more than once.
func (t *task) stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// ============================================================================
// Connection
// ============================================================================

// Connection owns one transport connection and its lifecycle:
//
//	Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
//
// All state transitions happen under mu. The dial, the token lookup and the
// waits for background tasks happen outside it.
type Connection struct {
	name    string
	path    string
	cfg     RealtimeConfig
	log     *zap.Logger
	onFrame func([]byte)
	states  *Stream[ConnectionState]

	mu         sync.Mutex
	state      ConnectionState
	conn       Conn
	gen        uint64 // bumped by every attempt and every Disconnect
	manualStop bool   // set by Disconnect, cleared by Connect
	attempt    context.CancelFunc
	readCancel context.CancelFunc
	heartbeat  *task
	reconnect  *task
	stopping   chan struct{} // closed when an in-flight Disconnect finishes
}

// NewConnection creates a disconnected connection for endpointPath. onFrame
// is called from the read goroutine for every inbound text frame.
func NewConnection(name, endpointPath string, cfg RealtimeConfig, onFrame func([]byte)) *Connection {
	cfg.defaults()
	if onFrame == nil {
		onFrame = func([]byte) {}
	}
	c := &Connection{
		name:    name,
		path:    endpointPath,
		cfg:     cfg,
		log:     cfg.Logger.Named(name).With(zap.String("channel", name)),
		onFrame: onFrame,
	}
	c.states = newStream[ConnectionState](name+".state", cfg.StreamBuffer, cfg.Metrics.incStreamDrop)
	cfg.Metrics.setState(name, Disconnected)
	return c
}

// Name returns the channel name.
func (c *Connection) Name() string { return c.name }

// State returns the current state. It is a snapshot.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// States is the feed of state transitions.
func (c *Connection) States() *Stream[ConnectionState] { return c.states }

func (c *Connection) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.cfg.Metrics.setState(c.name, s)
	c.states.Publish(s)
}

func (c *Connection) endpoint(token string) string {
	base := c.cfg.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "ws/" + c.path + "?token=" + url.QueryEscape(token)
}

// Connect opens the connection. It is a no-op while Connecting or Connected.
// A missing token ends the attempt with ErrNoToken and schedules nothing; a
// transport failure schedules an automatic reconnect and is returned for
// information only.
func (c *Connection) Connect(ctx context.Context) error {
	return c.connect(ctx, nil)
}

// connect runs one attempt. self is the reconnect task driving the attempt,
// or nil for a caller-initiated connect.
func (c *Connection) connect(ctx context.Context, self *task) error {
	c.mu.Lock()
	if self != nil && (c.reconnect != self || c.manualStop || c.state != Disconnected) {
		c.mu.Unlock()
		return nil
	}
	switch c.state {
	case Connecting, Connected:
		c.mu.Unlock()
		return nil
	case Disconnecting:
		c.mu.Unlock()
		return ErrDisconnecting
	}

	var pending *task
	if self == nil {
		pending, c.reconnect = c.reconnect, nil
	} else {
		c.cfg.Metrics.incReconnect(c.name)
	}
	c.manualStop = false
	c.gen++
	gen := c.gen
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.attempt = cancel
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	pending.stop()

	token, err := c.cfg.Tokens.Token(attemptCtx)
	if err != nil || token == "" {
		c.mu.Lock()
		if c.gen == gen {
			c.attempt = nil
			if c.reconnect == self {
				c.reconnect = nil
			}
			c.setStateLocked(Disconnected)
		}
		c.mu.Unlock()
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrNoToken, err)
		} else {
			err = ErrNoToken
		}
		c.log.Warn("connect aborted, no token", zap.Error(err))
		return err
	}

	conn, err := c.cfg.Transport.Dial(attemptCtx, c.endpoint(token))

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close(CloseNormal, CloseReasonClientEnd)
		}
		return ErrDisconnecting
	}
	c.attempt = nil
	if c.reconnect == self {
		c.reconnect = nil
	}
	if err != nil {
		c.setStateLocked(Disconnected)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.log.Warn("connect failed", zap.Error(err))
		return fmt.Errorf("connect %s: %w", c.name, err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.readCancel = readCancel
	c.startHeartbeatLocked(conn)
	c.setStateLocked(Connected)
	c.mu.Unlock()

	c.log.Info("connected", zap.String("path", c.path))
	go c.readLoop(readCtx, gen, conn)
	return nil
}

// Disconnect closes the connection with a normal closure and suppresses
// reconnection until the next Connect. When it returns, no heartbeat or
// reconnect task of this connection is running.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.manualStop = true
	switch c.state {
	case Disconnecting:
		wait := c.stopping
		c.mu.Unlock()
		<-wait
		return
	case Disconnected:
		c.gen++
		rc := c.reconnect
		c.reconnect = nil
		c.mu.Unlock()
		rc.stop()
		return
	}

	c.gen++
	attempt := c.attempt
	rc := c.reconnect
	hb := c.heartbeat
	conn := c.conn
	readCancel := c.readCancel
	c.attempt, c.reconnect, c.heartbeat, c.conn, c.readCancel = nil, nil, nil, nil, nil
	done := make(chan struct{})
	c.stopping = done
	c.setStateLocked(Disconnecting)
	c.mu.Unlock()

	if attempt != nil {
		attempt()
	}
	rc.stop()
	hb.stop()
	if conn != nil {
		if err := conn.Close(CloseNormal, CloseReasonClientEnd); err != nil {
			c.log.Debug("close", zap.Error(err))
		}
	}
	if readCancel != nil {
		readCancel()
	}

	c.mu.Lock()
	c.stopping = nil
	c.setStateLocked(Disconnected)
	c.mu.Unlock()
	close(done)
	c.log.Info("disconnected")
}

// Send writes one frame if the connection is Connected. Otherwise the frame
// is dropped and Send reports false; dropping is not an error.
func (c *Connection) Send(ctx context.Context, frame []byte) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == Connected && conn != nil
	c.mu.Unlock()

	if !ok {
		c.cfg.Metrics.incSendDropped(c.name)
		c.log.Debug("send dropped, not connected")
		return false
	}
	if err := conn.Write(ctx, frame); err != nil {
		c.log.Warn("send failed", zap.Error(err))
		return false
	}
	c.cfg.Metrics.incFrameSent(c.name)
	return true
}

// Close disconnects and ends the state feed. The connection is unusable
// afterwards.
func (c *Connection) Close() {
	c.Disconnect()
	c.states.Close()
}

func (c *Connection) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(gen, conn, err)
			return
		}
		if string(frame) == heartbeatReply {
			continue
		}
		c.onFrame(frame)
	}
}

// handleClose reacts to the read side ending. Closes caused by Disconnect
// are ignored; anything else is abnormal and schedules a reconnect.
func (c *Connection) handleClose(gen uint64, conn Conn, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	hb := c.heartbeat
	readCancel := c.readCancel
	c.conn, c.heartbeat, c.readCancel = nil, nil, nil
	c.setStateLocked(Disconnected)
	if !c.manualStop {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	hb.stop()
	if readCancel != nil {
		readCancel()
	}
	conn.Close(CloseGoingAway, CloseReasonConnLost)
	if errors.Is(cause, context.Canceled) {
		cause = nil
	}
	c.log.Warn("connection lost", zap.Error(cause))
}

// ============================================================================
// Heartbeat & Reconnect Schedulers
// ============================================================================

// startHeartbeatLocked replaces the heartbeat task for conn. The ticker is
// created before returning so the interval counts from the Connected
// transition.
func (c *Connection) startHeartbeatLocked(conn Conn) {
	if c.heartbeat != nil {
		c.heartbeat.cancel()
	}
	t, ctx := newTask()
	ticker := c.cfg.Clock.Ticker(c.cfg.HeartbeatInterval)
	c.heartbeat = t

	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				if err := conn.Write(ctx, []byte(HeartbeatFrame)); err != nil {
					c.log.Debug("heartbeat write failed", zap.Error(err))
					continue
				}
				c.cfg.Metrics.incHeartbeat(c.name)
			}
		}
	}()
}

// scheduleReconnectLocked arms the single reconnect task unless one is
// already pending. The task re-checks the state inside connect before it
// dials.
func (c *Connection) scheduleReconnectLocked() {
	if c.reconnect != nil {
		return
	}
	t, ctx := newTask()
	timer := c.cfg.Clock.Timer(c.cfg.ReconnectDelay)
	c.reconnect = t
	c.log.Info("reconnect scheduled", zap.Duration("delay", c.cfg.ReconnectDelay))

	go func() {
		defer close(t.done)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := c.connect(ctx, t); err != nil && !errors.Is(err, ErrDisconnecting) {
			c.log.Debug("reconnect attempt failed", zap.Error(err))
		}
	}()
}
