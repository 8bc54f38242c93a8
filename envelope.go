package chatsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Message Types
// ============================================================================

// MessageType is the discriminant of an Envelope.
type MessageType string

const (
	// auth
	TypeAuth        MessageType = "AUTH"
	TypeAuthSuccess MessageType = "AUTH_SUCCESS"
	TypeAuthFailed  MessageType = "AUTH_FAILED"

	// message lifecycle
	TypeNewMessage       MessageType = "NEW_MESSAGE"
	TypeMessageRead      MessageType = "MESSAGE_READ"
	TypeMessageDelivered MessageType = "MESSAGE_DELIVERED"
	TypeMessageDeleted   MessageType = "MESSAGE_DELETED"

	// typing
	TypeTypingStart MessageType = "TYPING_START"
	TypeTypingStop  MessageType = "TYPING_STOP"

	// call lifecycle
	TypeCallInitiate     MessageType = "CALL_INITIATE"
	TypeCallRinging      MessageType = "CALL_RINGING"
	TypeCallAccepted     MessageType = "CALL_ACCEPTED"
	TypeCallRejected     MessageType = "CALL_REJECTED"
	TypeCallEnded        MessageType = "CALL_ENDED"
	TypeCallMissed       MessageType = "CALL_MISSED"
	TypeCallOffer        MessageType = "CALL_OFFER"
	TypeCallAnswer       MessageType = "CALL_ANSWER"
	TypeCallIceCandidate MessageType = "CALL_ICE_CANDIDATE"

	// status lifecycle
	TypeStatusCreated  MessageType = "STATUS_CREATED"
	TypeStatusViewed   MessageType = "STATUS_VIEWED"
	TypeStatusReaction MessageType = "STATUS_REACTION"
	TypeStatusDeleted  MessageType = "STATUS_DELETED"

	// group lifecycle
	TypeGroupCreated       MessageType = "GROUP_CREATED"
	TypeGroupUpdated       MessageType = "GROUP_UPDATED"
	TypeGroupMemberAdded   MessageType = "GROUP_MEMBER_ADDED"
	TypeGroupMemberRemoved MessageType = "GROUP_MEMBER_REMOVED"

	// presence
	TypeUserOnline     MessageType = "USER_ONLINE"
	TypeUserOffline    MessageType = "USER_OFFLINE"
	TypePresenceUpdate MessageType = "PRESENCE_UPDATE"

	// notification
	TypeNotification MessageType = "NOTIFICATION"

	// error
	TypeError MessageType = "ERROR"
)

// Family groups message types by feature area.
type Family string

const (
	FamilyUnknown      Family = ""
	FamilyAuth         Family = "auth"
	FamilyMessage      Family = "message"
	FamilyTyping       Family = "typing"
	FamilyCall         Family = "call"
	FamilyStatus       Family = "status"
	FamilyGroup        Family = "group"
	FamilyPresence     Family = "presence"
	FamilyNotification Family = "notification"
	FamilyError        Family = "error"
)

// Vocabulary lists every known message type.
var Vocabulary = []MessageType{
	TypeAuth, TypeAuthSuccess, TypeAuthFailed,
	TypeNewMessage, TypeMessageRead, TypeMessageDelivered, TypeMessageDeleted,
	TypeTypingStart, TypeTypingStop,
	TypeCallInitiate, TypeCallRinging, TypeCallAccepted, TypeCallRejected,
	TypeCallEnded, TypeCallMissed, TypeCallOffer, TypeCallAnswer, TypeCallIceCandidate,
	TypeStatusCreated, TypeStatusViewed, TypeStatusReaction, TypeStatusDeleted,
	TypeGroupCreated, TypeGroupUpdated, TypeGroupMemberAdded, TypeGroupMemberRemoved,
	TypeUserOnline, TypeUserOffline, TypePresenceUpdate,
	TypeNotification,
	TypeError,
}

// Family reports which feature area t belongs to.
func (t MessageType) Family() Family {
	switch t {
	case TypeAuth, TypeAuthSuccess, TypeAuthFailed:
		return FamilyAuth
	case TypeNewMessage, TypeMessageRead, TypeMessageDelivered, TypeMessageDeleted:
		return FamilyMessage
	case TypeTypingStart, TypeTypingStop:
		return FamilyTyping
	case TypeCallInitiate, TypeCallRinging, TypeCallAccepted, TypeCallRejected,
		TypeCallEnded, TypeCallMissed, TypeCallOffer, TypeCallAnswer, TypeCallIceCandidate:
		return FamilyCall
	case TypeStatusCreated, TypeStatusViewed, TypeStatusReaction, TypeStatusDeleted:
		return FamilyStatus
	case TypeGroupCreated, TypeGroupUpdated, TypeGroupMemberAdded, TypeGroupMemberRemoved:
		return FamilyGroup
	case TypeUserOnline, TypeUserOffline, TypePresenceUpdate:
		return FamilyPresence
	case TypeNotification:
		return FamilyNotification
	case TypeError:
		return FamilyError
	}
	return FamilyUnknown
}

// Category names a sub-stream of inbound envelopes.
type Category string

const (
	CategoryNone          Category = ""
	CategoryNewMessages   Category = "new-messages"
	CategoryTyping        Category = "typing"
	CategoryCallEvents    Category = "call-events"
	CategoryStatusEvents  Category = "status-events"
	CategoryGroupEvents   Category = "group-events"
	CategoryPresence      Category = "presence"
	CategoryNotifications Category = "notifications"
)

// Categories lists every category that has a sub-stream.
var Categories = []Category{
	CategoryNewMessages,
	CategoryTyping,
	CategoryCallEvents,
	CategoryStatusEvents,
	CategoryGroupEvents,
	CategoryPresence,
	CategoryNotifications,
}

// Category maps t to its sub-stream. Auth, error and unknown types have none
// and are delivered on the generic stream only.
func (t MessageType) Category() Category {
	switch t.Family() {
	case FamilyMessage:
		return CategoryNewMessages
	case FamilyTyping:
		return CategoryTyping
	case FamilyCall:
		return CategoryCallEvents
	case FamilyStatus:
		return CategoryStatusEvents
	case FamilyGroup:
		return CategoryGroupEvents
	case FamilyPresence:
		return CategoryPresence
	case FamilyNotification:
		return CategoryNotifications
	case FamilyAuth, FamilyError, FamilyUnknown:
		return CategoryNone
	}
	return CategoryNone
}

// ============================================================================
// Payload Types
// ============================================================================

// AuthPayload accompanies AUTH, AUTH_SUCCESS and AUTH_FAILED.
type AuthPayload struct {
	UserID string `json:"userId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ReceiptPayload accompanies MESSAGE_READ, MESSAGE_DELIVERED and MESSAGE_DELETED.
type ReceiptPayload struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId,omitempty"`
	UserID         string     `json:"userId,omitempty"`
	At             *time.Time `json:"at,omitempty"`
}

// TypingPayload accompanies TYPING_START and TYPING_STOP.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// CallPayload accompanies every CALL_* type. Signal carries the opaque
// offer/answer/candidate body for the signaling types.
type CallPayload struct {
	CallID   string          `json:"callId"`
	CallerID string          `json:"callerId,omitempty"`
	CalleeID string          `json:"calleeId,omitempty"`
	GroupID  string          `json:"groupId,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
}

// StatusPayload accompanies every STATUS_* type.
type StatusPayload struct {
	StatusID string  `json:"statusId"`
	UserID   string  `json:"userId,omitempty"`
	ViewerID string  `json:"viewerId,omitempty"`
	Reaction string  `json:"reaction,omitempty"`
	Status   *Status `json:"status,omitempty"`
}

// GroupPayload accompanies every GROUP_* type.
type GroupPayload struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId,omitempty"`
	Group   *Group `json:"group,omitempty"`
}

// PresencePayload accompanies USER_ONLINE, USER_OFFLINE and PRESENCE_UPDATE.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ErrorPayload accompanies ERROR.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ============================================================================
// Envelope
// ============================================================================

// Envelope is one realtime frame. Payload holds the typed variant selected by
// Type: *AuthPayload, *Message, *ReceiptPayload, *TypingPayload, *CallPayload,
// *StatusPayload, *GroupPayload, *PresencePayload, *Notification or
// *ErrorPayload. Unknown types, null data and data that does not fit the
// type's payload leave Payload nil; Data always holds the raw bytes.
type Envelope struct {
	Type    MessageType
	Data    json.RawMessage
	Payload any
}

type wireEnvelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

var errMissingType = errors.New("envelope has no type")

// ErrPayloadMismatch is returned alongside a usable Envelope when the frame
// is a valid envelope but its data does not decode into the typed payload.
var ErrPayloadMismatch = errors.New("payload does not match envelope type")

// DecodeEnvelope parses one inbound text frame. Any error other than
// ErrPayloadMismatch means the frame is not an envelope.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if w.Type == "" {
		return Envelope{}, errMissingType
	}
	env := Envelope{Type: w.Type, Data: w.Data}
	if len(w.Data) == 0 || string(w.Data) == "null" {
		return env, nil
	}
	payload := newPayload(w.Type)
	if payload == nil {
		return env, nil
	}
	if err := json.Unmarshal(w.Data, payload); err != nil {
		return env, fmt.Errorf("decode %s payload: %w: %v", w.Type, ErrPayloadMismatch, err)
	}
	env.Payload = payload
	return env, nil
}

func newPayload(t MessageType) any {
	switch t.Family() {
	case FamilyAuth:
		return &AuthPayload{}
	case FamilyMessage:
		if t == TypeNewMessage {
			return &Message{}
		}
		return &ReceiptPayload{}
	case FamilyTyping:
		return &TypingPayload{}
	case FamilyCall:
		return &CallPayload{}
	case FamilyStatus:
		return &StatusPayload{}
	case FamilyGroup:
		return &GroupPayload{}
	case FamilyPresence:
		return &PresencePayload{}
	case FamilyNotification:
		return &Notification{}
	case FamilyError:
		return &ErrorPayload{}
	case FamilyUnknown:
		return nil
	}
	return nil
}

// EncodeEnvelope serializes an outbound frame. A nil data encodes as null.
func EncodeEnvelope(t MessageType, data any) ([]byte, error) {
	raw := json.RawMessage("null")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		raw = b
	}
	return json.Marshal(wireEnvelope{Type: t, Data: raw})
}
