package chatsync

import "context"

// StatusChannel carries presence and status-story events over "ws/status".
type StatusChannel struct {
	*Channel
}

// NewStatusChannel creates a disconnected status channel.
func NewStatusChannel(cfg RealtimeConfig) *StatusChannel {
	return &StatusChannel{Channel: newChannel("status", StatusPath, cfg)}
}

func (s *StatusChannel) StatusEvents() *Stream[Envelope] { return s.Category(CategoryStatusEvents) }

func (s *StatusChannel) Presence() *Stream[Envelope] { return s.Category(CategoryPresence) }

// SendPresence announces the local user as online or offline.
func (s *StatusChannel) SendPresence(ctx context.Context, online bool) bool {
	return s.Send(ctx, TypePresenceUpdate, PresencePayload{Online: online})
}

// SendStatusView reports that the local user viewed statusID.
func (s *StatusChannel) SendStatusView(ctx context.Context, statusID string) bool {
	return s.Send(ctx, TypeStatusViewed, StatusPayload{StatusID: statusID})
}

// SendStatusReaction reacts to statusID.
func (s *StatusChannel) SendStatusReaction(ctx context.Context, statusID, reaction string) bool {
	return s.Send(ctx, TypeStatusReaction, StatusPayload{StatusID: statusID, Reaction: reaction})
}
