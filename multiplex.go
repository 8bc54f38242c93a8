package chatsync

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager owns the three realtime channels and is the single entry point for
// realtime traffic. Create one per process and share it.
type Manager struct {
	tokens    *TokenHolder
	log       *zap.Logger
	messaging *MessagingChannel
	calls     *CallsChannel
	status    *StatusChannel
}

// NewManager creates the messaging, calls and status channels. The token
// given to ConnectAll takes precedence; cfg.Tokens, if set, is consulted when
// no token has been given.
func NewManager(cfg RealtimeConfig) *Manager {
	cfg.defaults()
	holder := NewTokenHolder("")
	fallback := cfg.Tokens
	cfg.Tokens = TokenFunc(func(ctx context.Context) (string, error) {
		if t, _ := holder.Token(ctx); t != "" {
			return t, nil
		}
		return fallback.Token(ctx)
	})

	return &Manager{
		tokens:    holder,
		log:       cfg.Logger.Named("manager"),
		messaging: NewMessagingChannel(cfg),
		calls:     NewCallsChannel(cfg),
		status:    NewStatusChannel(cfg),
	}
}

// Channels returns messaging, calls and status, in that order.
func (m *Manager) Channels() []*Channel {
	return []*Channel{m.messaging.Channel, m.calls.Channel, m.status.Channel}
}

func (m *Manager) Messaging() *MessagingChannel { return m.messaging }
func (m *Manager) Calls() *CallsChannel         { return m.calls }
func (m *Manager) Status() *StatusChannel       { return m.status }

// ConnectAll starts connecting every channel and returns immediately.
// Progress is observed through State, States or IsConnected. A non-empty
// token replaces the one used by this and later attempts.
func (m *Manager) ConnectAll(ctx context.Context, token string) {
	if token != "" {
		m.tokens.Set(token)
	}
	for _, ch := range m.Channels() {
		go func(ch *Channel) {
			if err := ch.Connect(ctx); err != nil {
				m.log.Debug("connect", zap.String("channel", ch.Name()), zap.Error(err))
			}
		}(ch)
	}
}

// DisconnectAll disconnects every channel concurrently and waits for all of
// them.
func (m *Manager) DisconnectAll() {
	var g errgroup.Group
	for _, ch := range m.Channels() {
		ch := ch
		g.Go(func() error {
			ch.Disconnect()
			return nil
		})
	}
	_ = g.Wait()
}

// IsConnected reports whether every channel is Connected right now. It is a
// snapshot and can be stale as soon as it returns.
func (m *Manager) IsConnected() bool {
	for _, ch := range m.Channels() {
		if ch.State() != Connected {
			return false
		}
	}
	return true
}

// Close disconnects every channel and ends all streams.
func (m *Manager) Close() {
	m.DisconnectAll()
	for _, ch := range m.Channels() {
		ch.Close()
	}
}

// ============================================================================
// Facade
// ============================================================================

func (m *Manager) NewMessages() *Stream[Envelope]   { return m.messaging.NewMessages() }
func (m *Manager) Typing() *Stream[Envelope]        { return m.messaging.Typing() }
func (m *Manager) GroupEvents() *Stream[Envelope]   { return m.messaging.GroupEvents() }
func (m *Manager) Notifications() *Stream[Envelope] { return m.messaging.Notifications() }
func (m *Manager) CallEvents() *Stream[Envelope]    { return m.calls.CallEvents() }
func (m *Manager) StatusEvents() *Stream[Envelope]  { return m.status.StatusEvents() }
func (m *Manager) Presence() *Stream[Envelope]      { return m.status.Presence() }

func (m *Manager) SendMessage(ctx context.Context, req SendMessageRequest) (string, bool) {
	return m.messaging.SendMessage(ctx, req)
}

func (m *Manager) SendTyping(ctx context.Context, conversationID string, typing bool) bool {
	return m.messaging.SendTyping(ctx, conversationID, typing)
}

func (m *Manager) SendReadReceipt(ctx context.Context, conversationID, messageID string) bool {
	return m.messaging.SendReadReceipt(ctx, conversationID, messageID)
}

func (m *Manager) SendCallSignal(ctx context.Context, t MessageType, p CallPayload) bool {
	return m.calls.SendSignal(ctx, t, p)
}

func (m *Manager) SendCallOffer(ctx context.Context, callID string, offer json.RawMessage) bool {
	return m.calls.SendOffer(ctx, callID, offer)
}

func (m *Manager) SendPresence(ctx context.Context, online bool) bool {
	return m.status.SendPresence(ctx, online)
}

func (m *Manager) SendStatusView(ctx context.Context, statusID string) bool {
	return m.status.SendStatusView(ctx, statusID)
}

func (m *Manager) SendStatusReaction(ctx context.Context, statusID, reaction string) bool {
	return m.status.SendStatusReaction(ctx, statusID, reaction)
}
