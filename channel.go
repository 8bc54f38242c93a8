package chatsync

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Endpoint paths, appended to "<base>ws/".
const (
	MessagingPath = "messages"
	CallsPath     = "calls"
	StatusPath    = "status"
)

// Channel is one logical realtime channel: a Connection, the envelope codec,
// and the streams the decoded envelopes are classified into.
//
// Every envelope goes to All. An envelope whose type has a category also goes
// to exactly one category stream. Streams are created once and survive
// reconnects.
type Channel struct {
	conn    *Connection
	log     *zap.Logger
	metrics *Metrics

	all        *Stream[Envelope]
	categories map[Category]*Stream[Envelope]
}

func newChannel(name, path string, cfg RealtimeConfig) *Channel {
	cfg.defaults()
	ch := &Channel{
		log:        cfg.Logger.Named(name).With(zap.String("channel", name)),
		metrics:    cfg.Metrics,
		all:        newStream[Envelope](name+".all", cfg.StreamBuffer, cfg.Metrics.incStreamDrop),
		categories: make(map[Category]*Stream[Envelope], len(Categories)),
	}
	for _, cat := range Categories {
		ch.categories[cat] = newStream[Envelope](name+"."+string(cat), cfg.StreamBuffer, cfg.Metrics.incStreamDrop)
	}
	ch.conn = NewConnection(name, path, cfg, ch.dispatch)
	return ch
}

// dispatch decodes one inbound frame and fans it out. A frame that is not an
// envelope is logged and dropped; the connection is not affected. An envelope
// whose data does not fit its type is still delivered, with a nil Payload.
func (ch *Channel) dispatch(frame []byte) {
	env, err := DecodeEnvelope(frame)
	switch {
	case errors.Is(err, ErrPayloadMismatch):
		ch.metrics.incPayloadMismatch(ch.Name(), env.Type)
		ch.log.Warn("delivering envelope without typed payload",
			zap.String("type", string(env.Type)), zap.Int("len", len(frame)), zap.Error(err))
	case err != nil:
		ch.metrics.incFrameDropped(ch.Name(), "malformed")
		ch.log.Warn("dropping malformed frame", zap.Int("len", len(frame)), zap.Error(err))
		return
	}
	ch.metrics.incFrameReceived(ch.Name())
	ch.all.Publish(env)
	if s, ok := ch.categories[env.Type.Category()]; ok {
		s.Publish(env)
	}
}

// Name returns the channel name: "messaging", "calls" or "status".
func (ch *Channel) Name() string { return ch.conn.Name() }

// Connect opens the channel. See Connection.Connect.
func (ch *Channel) Connect(ctx context.Context) error { return ch.conn.Connect(ctx) }

// Disconnect closes the channel and suppresses reconnection.
func (ch *Channel) Disconnect() { ch.conn.Disconnect() }

// State returns the current connection state.
func (ch *Channel) State() ConnectionState { return ch.conn.State() }

// States is the feed of connection state transitions.
func (ch *Channel) States() *Stream[ConnectionState] { return ch.conn.States() }

// All is the generic stream of every decoded envelope.
func (ch *Channel) All() *Stream[Envelope] { return ch.all }

// Category returns the sub-stream for cat, or nil for CategoryNone.
func (ch *Channel) Category(cat Category) *Stream[Envelope] { return ch.categories[cat] }

// Send encodes data under type t and writes it if the channel is connected.
// It reports whether the frame was written. Nothing is queued.
func (ch *Channel) Send(ctx context.Context, t MessageType, data any) bool {
	frame, err := EncodeEnvelope(t, data)
	if err != nil {
		ch.log.Error("encode outbound envelope", zap.String("type", string(t)), zap.Error(err))
		return false
	}
	return ch.conn.Send(ctx, frame)
}

// Close disconnects and ends every stream of the channel.
func (ch *Channel) Close() {
	ch.conn.Close()
	ch.all.Close()
	for _, s := range ch.categories {
		s.Close()
	}
}
