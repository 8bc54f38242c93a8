package chatsync

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// MessagingChannel carries chat messages, receipts, typing indicators, group
// events and notifications over "ws/messages".
type MessagingChannel struct {
	*Channel
	clock clock.Clock
}

// NewMessagingChannel creates a disconnected messaging channel.
func NewMessagingChannel(cfg RealtimeConfig) *MessagingChannel {
	cfg.defaults()
	return &MessagingChannel{
		Channel: newChannel("messaging", MessagingPath, cfg),
		clock:   cfg.Clock,
	}
}

// NewMessages carries NEW_MESSAGE, MESSAGE_READ, MESSAGE_DELIVERED and
// MESSAGE_DELETED.
func (m *MessagingChannel) NewMessages() *Stream[Envelope] { return m.Category(CategoryNewMessages) }

func (m *MessagingChannel) Typing() *Stream[Envelope] { return m.Category(CategoryTyping) }

func (m *MessagingChannel) GroupEvents() *Stream[Envelope] { return m.Category(CategoryGroupEvents) }

func (m *MessagingChannel) Notifications() *Stream[Envelope] {
	return m.Category(CategoryNotifications)
}

// SendMessage sends a chat message. An empty ClientID is filled with a new
// UUID; the id is returned so the caller can match the server's echo.
func (m *MessagingChannel) SendMessage(ctx context.Context, req SendMessageRequest) (string, bool) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	if req.Type == "" {
		req.Type = "text"
	}
	return req.ClientID, m.Send(ctx, TypeNewMessage, req)
}

// SendTyping sends TYPING_START when typing is true, TYPING_STOP otherwise.
func (m *MessagingChannel) SendTyping(ctx context.Context, conversationID string, typing bool) bool {
	t := TypeTypingStop
	if typing {
		t = TypeTypingStart
	}
	return m.Send(ctx, t, TypingPayload{ConversationID: conversationID})
}

// SendReadReceipt marks messageID as read.
func (m *MessagingChannel) SendReadReceipt(ctx context.Context, conversationID, messageID string) bool {
	return m.sendReceipt(ctx, TypeMessageRead, conversationID, messageID)
}

// SendDelivered acknowledges delivery of messageID.
func (m *MessagingChannel) SendDelivered(ctx context.Context, conversationID, messageID string) bool {
	return m.sendReceipt(ctx, TypeMessageDelivered, conversationID, messageID)
}

func (m *MessagingChannel) sendReceipt(ctx context.Context, t MessageType, conversationID, messageID string) bool {
	at := m.clock.Now().UTC().Truncate(time.Millisecond)
	return m.Send(ctx, t, ReceiptPayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		At:             &at,
	})
}
