package chatsync

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// CallsChannel carries call lifecycle and signaling over "ws/calls". Media
// transport is negotiated elsewhere; this channel only relays the payloads.
type CallsChannel struct {
	*Channel
}

// NewCallsChannel creates a disconnected calls channel.
func NewCallsChannel(cfg RealtimeConfig) *CallsChannel {
	return &CallsChannel{Channel: newChannel("calls", CallsPath, cfg)}
}

// CallEvents carries every CALL_* envelope.
func (c *CallsChannel) CallEvents() *Stream[Envelope] { return c.Category(CategoryCallEvents) }

// SendSignal sends a call envelope. Types outside the call family are
// rejected without touching the transport.
func (c *CallsChannel) SendSignal(ctx context.Context, t MessageType, p CallPayload) bool {
	if t.Family() != FamilyCall {
		c.log.Error("not a call message type", zap.String("type", string(t)))
		return false
	}
	return c.Send(ctx, t, p)
}

// Initiate starts a call. p.CallID identifies the call from here on.
func (c *CallsChannel) Initiate(ctx context.Context, p CallPayload) bool {
	return c.SendSignal(ctx, TypeCallInitiate, p)
}

func (c *CallsChannel) Accept(ctx context.Context, callID string) bool {
	return c.SendSignal(ctx, TypeCallAccepted, CallPayload{CallID: callID})
}

func (c *CallsChannel) Reject(ctx context.Context, callID string) bool {
	return c.SendSignal(ctx, TypeCallRejected, CallPayload{CallID: callID})
}

func (c *CallsChannel) End(ctx context.Context, callID string) bool {
	return c.SendSignal(ctx, TypeCallEnded, CallPayload{CallID: callID})
}

// SendOffer relays an opaque session offer.
func (c *CallsChannel) SendOffer(ctx context.Context, callID string, offer json.RawMessage) bool {
	return c.SendSignal(ctx, TypeCallOffer, CallPayload{CallID: callID, Signal: offer})
}

// SendAnswer relays an opaque session answer.
func (c *CallsChannel) SendAnswer(ctx context.Context, callID string, answer json.RawMessage) bool {
	return c.SendSignal(ctx, TypeCallAnswer, CallPayload{CallID: callID, Signal: answer})
}

// SendICECandidate relays one connectivity candidate.
func (c *CallsChannel) SendICECandidate(ctx context.Context, callID string, candidate json.RawMessage) bool {
	return c.SendSignal(ctx, TypeCallIceCandidate, CallPayload{CallID: callID, Signal: candidate})
}
