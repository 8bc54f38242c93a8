// Package chatsync is the realtime and data-access core of a consumer
// messaging client.
//
// Realtime traffic runs over three independent channels (messaging, calls,
// status) owned by a Manager. Request/response data goes through
// repositories that follow one cache-sync policy: backend first, local cache
// as the fallback for reads, and the cache mirrored only after a confirmed
// write.
//
// Example:
//
//	tokens := chatsync.NewTokenHolder(jwt)
//	client := chatsync.NewClient("https://chat.example.com/", chatsync.WithTokenResolver(tokens))
//	store := chatsync.NewMemoryStore()
//	messages := chatsync.NewMessageRepository(client.Messages, store, chatsync.SyncPolicy{})
//
//	mgr := chatsync.NewManager(chatsync.RealtimeConfig{BaseURL: "https://chat.example.com/"})
//	mgr.ConnectAll(ctx, jwt)
//	events, cancel := mgr.NewMessages().Subscribe(ctx)
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client talks to the backend REST API. Each resource has its own
// sub-client.
type Client struct {
	baseURL    string
	tokens     TokenResolver
	httpClient *http.Client
	log        *zap.Logger

	Messages      *MessagesClient
	Calls         *CallsClient
	Groups        *GroupsClient
	Media         *MediaClient
	Statuses      *StatusesClient
	Notifications *NotificationsClient
	Users         *UsersClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithTokenResolver sets where the bearer token comes from. It is asked on
// every request.
func WithTokenResolver(r TokenResolver) ClientOption {
	return func(c *Client) { c.tokens = r }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  StaticToken(""),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.Named("api")
	c.Messages = &MessagesClient{c: c}
	c.Calls = &CallsClient{c: c}
	c.Groups = &GroupsClient{c: c}
	c.Media = &MediaClient{c: c}
	c.Statuses = &StatusesClient{c: c}
	c.Notifications = &NotificationsClient{c: c}
	c.Users = &UsersClient{c: c}
	return c
}

// Health checks that the backend is reachable and answering.
func (c *Client) Health(ctx context.Context) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodGet, "/api/health", nil, nil)
	return err
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
	)
	return data, resp.StatusCode, nil
}

// call performs one request and unwraps the {success,data,message} envelope.
// A non-2xx status and success=false both come back as *APIError.
func call[T any](ctx context.Context, c *Client, method, path string, body any, query url.Values) (T, error) {
	var out T

	data, status, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return out, err
	}

	var env Response
	decodeErr := json.Unmarshal(data, &env)
	if status < 200 || status > 299 {
		apiErr := &APIError{Status: status, Message: http.StatusText(status)}
		if decodeErr == nil && env.Message != nil {
			apiErr.Message = *env.Message
		}
		return out, apiErr
	}
	if decodeErr != nil {
		return out, fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}
	if !env.Success {
		apiErr := &APIError{Status: status}
		if env.Message != nil {
			apiErr.Message = *env.Message
		}
		return out, apiErr
	}
	if err := env.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to unmarshal %s data: %w", path, err)
	}
	return out, nil
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func pageQuery(opts PageOptions) url.Values {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if !opts.Before.IsZero() {
		q.Set("before", opts.Before.UTC().Format(time.RFC3339Nano))
	}
	return q
}

func seg(id string) string { return url.PathEscape(id) }

// ============================================================================
// Resource Sub-Clients
// ============================================================================

// MessagesClient handles chat messages.
type MessagesClient struct{ c *Client }

func (m *MessagesClient) ConversationMessages(ctx context.Context, conversationID string, opts PageOptions) ([]Message, error) {
	return call[[]Message](ctx, m.c, http.MethodGet, "/api/conversations/"+seg(conversationID)+"/messages", nil, pageQuery(opts))
}

func (m *MessagesClient) Get(ctx context.Context, id string) (Message, error) {
	return call[Message](ctx, m.c, http.MethodGet, "/api/messages/"+seg(id), nil, nil)
}

func (m *MessagesClient) Send(ctx context.Context, req SendMessageRequest) (Message, error) {
	return call[Message](ctx, m.c, http.MethodPost, "/api/messages", req, nil)
}

func (m *MessagesClient) Edit(ctx context.Context, id, content string) (Message, error) {
	return call[Message](ctx, m.c, http.MethodPut, "/api/messages/"+seg(id), map[string]string{"content": content}, nil)
}

func (m *MessagesClient) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, m.c, http.MethodDelete, "/api/messages/"+seg(id), nil, nil)
	return err
}

func (m *MessagesClient) MarkRead(ctx context.Context, id string) (Message, error) {
	return call[Message](ctx, m.c, http.MethodPost, "/api/messages/"+seg(id)+"/read", nil, nil)
}

// CallsClient handles call history.
type CallsClient struct{ c *Client }

func (cl *CallsClient) History(ctx context.Context, opts PageOptions) ([]Call, error) {
	return call[[]Call](ctx, cl.c, http.MethodGet, "/api/calls", nil, pageQuery(opts))
}

func (cl *CallsClient) Get(ctx context.Context, id string) (Call, error) {
	return call[Call](ctx, cl.c, http.MethodGet, "/api/calls/"+seg(id), nil, nil)
}

func (cl *CallsClient) Log(ctx context.Context, req LogCallRequest) (Call, error) {
	return call[Call](ctx, cl.c, http.MethodPost, "/api/calls", req, nil)
}

func (cl *CallsClient) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, cl.c, http.MethodDelete, "/api/calls/"+seg(id), nil, nil)
	return err
}

// GroupsClient handles group management.
type GroupsClient struct{ c *Client }

func (g *GroupsClient) List(ctx context.Context) ([]Group, error) {
	return call[[]Group](ctx, g.c, http.MethodGet, "/api/groups", nil, nil)
}

func (g *GroupsClient) Get(ctx context.Context, id string) (Group, error) {
	return call[Group](ctx, g.c, http.MethodGet, "/api/groups/"+seg(id), nil, nil)
}

func (g *GroupsClient) Create(ctx context.Context, req CreateGroupRequest) (Group, error) {
	return call[Group](ctx, g.c, http.MethodPost, "/api/groups", req, nil)
}

func (g *GroupsClient) Update(ctx context.Context, id string, req UpdateGroupRequest) (Group, error) {
	return call[Group](ctx, g.c, http.MethodPut, "/api/groups/"+seg(id), req, nil)
}

func (g *GroupsClient) AddMember(ctx context.Context, id, userID string) (Group, error) {
	return call[Group](ctx, g.c, http.MethodPost, "/api/groups/"+seg(id)+"/members", map[string]string{"userId": userID}, nil)
}

func (g *GroupsClient) RemoveMember(ctx context.Context, id, userID string) (Group, error) {
	return call[Group](ctx, g.c, http.MethodDelete, "/api/groups/"+seg(id)+"/members/"+seg(userID), nil, nil)
}

func (g *GroupsClient) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, g.c, http.MethodDelete, "/api/groups/"+seg(id), nil, nil)
	return err
}

// MediaClient handles media metadata. Uploading the bytes happens elsewhere.
type MediaClient struct{ c *Client }

func (m *MediaClient) ConversationMedia(ctx context.Context, conversationID string) ([]Media, error) {
	return call[[]Media](ctx, m.c, http.MethodGet, "/api/conversations/"+seg(conversationID)+"/media", nil, nil)
}

func (m *MediaClient) Get(ctx context.Context, id string) (Media, error) {
	return call[Media](ctx, m.c, http.MethodGet, "/api/media/"+seg(id), nil, nil)
}

func (m *MediaClient) Register(ctx context.Context, req RegisterMediaRequest) (Media, error) {
	return call[Media](ctx, m.c, http.MethodPost, "/api/media", req, nil)
}

func (m *MediaClient) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, m.c, http.MethodDelete, "/api/media/"+seg(id), nil, nil)
	return err
}

// StatusesClient handles status stories.
type StatusesClient struct{ c *Client }

func (s *StatusesClient) Feed(ctx context.Context) ([]Status, error) {
	return call[[]Status](ctx, s.c, http.MethodGet, "/api/statuses", nil, nil)
}

func (s *StatusesClient) Get(ctx context.Context, id string) (Status, error) {
	return call[Status](ctx, s.c, http.MethodGet, "/api/statuses/"+seg(id), nil, nil)
}

func (s *StatusesClient) Post(ctx context.Context, req PostStatusRequest) (Status, error) {
	return call[Status](ctx, s.c, http.MethodPost, "/api/statuses", req, nil)
}

func (s *StatusesClient) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, s.c, http.MethodDelete, "/api/statuses/"+seg(id), nil, nil)
	return err
}

func (s *StatusesClient) MarkViewed(ctx context.Context, id string) (Status, error) {
	return call[Status](ctx, s.c, http.MethodPost, "/api/statuses/"+seg(id)+"/view", nil, nil)
}

// NotificationsClient handles the notification inbox.
type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) List(ctx context.Context, opts PageOptions) ([]Notification, error) {
	return call[[]Notification](ctx, n.c, http.MethodGet, "/api/notifications", nil, pageQuery(opts))
}

func (n *NotificationsClient) MarkRead(ctx context.Context, id string) (Notification, error) {
	return call[Notification](ctx, n.c, http.MethodPost, "/api/notifications/"+seg(id)+"/read", nil, nil)
}

func (n *NotificationsClient) Delete(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, n.c, http.MethodDelete, "/api/notifications/"+seg(id), nil, nil)
	return err
}

// UsersClient handles profiles and user search.
type UsersClient struct{ c *Client }

func (u *UsersClient) Me(ctx context.Context) (User, error) {
	return call[User](ctx, u.c, http.MethodGet, "/api/users/me", nil, nil)
}

func (u *UsersClient) Get(ctx context.Context, id string) (User, error) {
	return call[User](ctx, u.c, http.MethodGet, "/api/users/"+seg(id), nil, nil)
}

func (u *UsersClient) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (User, error) {
	return call[User](ctx, u.c, http.MethodPut, "/api/users/me", req, nil)
}

func (u *UsersClient) Search(ctx context.Context, query string) ([]User, error) {
	return call[[]User](ctx, u.c, http.MethodGet, "/api/users/search", nil, url.Values{"q": {query}})
}
