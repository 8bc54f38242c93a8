package chatsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Shared Errors
// ============================================================================

var (
	// ErrNoToken is returned by a connect attempt whose token resolver
	// produced no token. The attempt is terminal; no reconnect is scheduled.
	ErrNoToken = errors.New("chatsync: no auth token available")

	// ErrDisconnecting is returned by Connect while a Disconnect is in flight.
	ErrDisconnecting = errors.New("chatsync: disconnect in progress")

	// ErrNotFound is returned by a Store when no record exists for a key.
	ErrNotFound = errors.New("chatsync: not found")

	// ErrClosed is returned by a Store after Close.
	ErrClosed = errors.New("chatsync: store closed")
)

// APIError is a failure reported by the backend, either through a non-2xx
// HTTP status or a response envelope with success=false.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (status %d)", e.Status)
	}
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Response is the uniform backend envelope shared by every endpoint.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message *string         `json:"message"`
}

// Decode unmarshals the Data field into the provided value.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Cached Entities
// ============================================================================

// Entity is anything the local cache stores under a stable identity key.
type Entity interface {
	CacheKey() string
}

// Message delivery states.
const (
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
)

// Message is a chat message in a direct or group conversation.
type Message struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"clientId,omitempty"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId,omitempty"`
	GroupID        string     `json:"groupId,omitempty"`
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	MediaID        string     `json:"mediaId,omitempty"`
	Status         string     `json:"status,omitempty"`
	Edited         bool       `json:"edited,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

func (m Message) CacheKey() string { return m.ID }

// Call is one entry of the call history.
type Call struct {
	ID        string     `json:"id"`
	CallerID  string     `json:"callerId"`
	CalleeID  string     `json:"calleeId,omitempty"`
	GroupID   string     `json:"groupId,omitempty"`
	Kind      string     `json:"kind"` // voice|video
	State     string     `json:"state"`
	Duration  int        `json:"durationSeconds,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func (c Call) CacheKey() string { return c.ID }

// Group is a multi-member conversation.
type Group struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	OwnerID     string     `json:"ownerId"`
	MemberIDs   []string   `json:"memberIds"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func (g Group) CacheKey() string { return g.ID }

// Status is an ephemeral story-style post.
type Status struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Kind      string            `json:"kind"` // text|image|video
	Content   string            `json:"content,omitempty"`
	MediaID   string            `json:"mediaId,omitempty"`
	ViewerIDs []string          `json:"viewerIds,omitempty"`
	Reactions map[string]string `json:"reactions,omitempty"`
	Viewed    bool              `json:"viewed,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

func (s Status) CacheKey() string { return s.ID }

// Media is the metadata of an uploaded attachment. The bytes live elsewhere.
type Media struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	OwnerID        string    `json:"ownerId"`
	Kind           string    `json:"kind"`
	MimeType       string    `json:"mimeType"`
	URL            string    `json:"url"`
	ThumbnailURL   string    `json:"thumbnailUrl,omitempty"`
	SizeBytes      int64     `json:"sizeBytes"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (m Media) CacheKey() string { return m.ID }

// Notification is an in-app notification.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Notification) CacheKey() string { return n.ID }

// User is a user profile.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	About       string     `json:"about,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Online      bool       `json:"online,omitempty"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

func (u User) CacheKey() string { return u.ID }

// ============================================================================
// Request Types
// ============================================================================

// PageOptions restricts list reads. A zero Before means no upper bound.
type PageOptions struct {
	Limit  int
	Before time.Time
}

// SendMessageRequest creates a message.
type SendMessageRequest struct {
	ClientID       string `json:"clientId"`
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
	Type           string `json:"type"`
	Content        string `json:"content"`
	MediaID        string `json:"mediaId,omitempty"`
}

// CreateGroupRequest creates a group.
type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MemberIDs   []string `json:"memberIds"`
}

// UpdateGroupRequest changes group metadata. Empty fields are left alone.
type UpdateGroupRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// PostStatusRequest publishes a status.
type PostStatusRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	MediaID string `json:"mediaId,omitempty"`
}

// RegisterMediaRequest records an upload's metadata with the backend.
type RegisterMediaRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Kind           string `json:"kind"`
	MimeType       string `json:"mimeType"`
	URL            string `json:"url"`
	SizeBytes      int64  `json:"sizeBytes"`
}

// LogCallRequest records a call in the history.
type LogCallRequest struct {
	CalleeID string `json:"calleeId,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Duration int    `json:"durationSeconds,omitempty"`
}

// UpdateProfileRequest changes the caller's own profile.
type UpdateProfileRequest struct {
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	About       string `json:"about,omitempty"`
}
