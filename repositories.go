package chatsync

import (
	"context"
	"sort"
	"strings"
)

// Every repository here follows the cache-sync policy in cachesync.go: reads
// go to the backend and fall back to the cache, writes go to the backend and
// are mirrored only after success. Read methods report the Origin of their
// answer.

// ============================================================================
// Backend API Contracts
// ============================================================================

// MessageAPI is the backend surface MessageRepository needs. *MessagesClient
// implements it.
type MessageAPI interface {
	ConversationMessages(ctx context.Context, conversationID string, opts PageOptions) ([]Message, error)
	Get(ctx context.Context, id string) (Message, error)
	Send(ctx context.Context, req SendMessageRequest) (Message, error)
	Edit(ctx context.Context, id, content string) (Message, error)
	Delete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) (Message, error)
}

type CallAPI interface {
	History(ctx context.Context, opts PageOptions) ([]Call, error)
	Get(ctx context.Context, id string) (Call, error)
	Log(ctx context.Context, req LogCallRequest) (Call, error)
	Delete(ctx context.Context, id string) error
}

type GroupAPI interface {
	List(ctx context.Context) ([]Group, error)
	Get(ctx context.Context, id string) (Group, error)
	Create(ctx context.Context, req CreateGroupRequest) (Group, error)
	Update(ctx context.Context, id string, req UpdateGroupRequest) (Group, error)
	AddMember(ctx context.Context, id, userID string) (Group, error)
	RemoveMember(ctx context.Context, id, userID string) (Group, error)
	Delete(ctx context.Context, id string) error
}

type MediaAPI interface {
	ConversationMedia(ctx context.Context, conversationID string) ([]Media, error)
	Get(ctx context.Context, id string) (Media, error)
	Register(ctx context.Context, req RegisterMediaRequest) (Media, error)
	Delete(ctx context.Context, id string) error
}

type StatusAPI interface {
	Feed(ctx context.Context) ([]Status, error)
	Get(ctx context.Context, id string) (Status, error)
	Post(ctx context.Context, req PostStatusRequest) (Status, error)
	Delete(ctx context.Context, id string) error
	MarkViewed(ctx context.Context, id string) (Status, error)
}

type NotificationAPI interface {
	List(ctx context.Context, opts PageOptions) ([]Notification, error)
	MarkRead(ctx context.Context, id string) (Notification, error)
	Delete(ctx context.Context, id string) error
}

type UserAPI interface {
	Me(ctx context.Context) (User, error)
	Get(ctx context.Context, id string) (User, error)
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) (User, error)
	Search(ctx context.Context, query string) ([]User, error)
}

// deleted adapts an error-only backend delete to SyncWrite.
func deleted(fn func() error) func(context.Context) (struct{}, error) {
	return func(context.Context) (struct{}, error) { return struct{}{}, fn() }
}

func dropKey[T Entity](c *Collection[T], id string) func(context.Context, struct{}) error {
	return func(ctx context.Context, _ struct{}) error { return c.Delete(ctx, id) }
}

// page orders items oldest first by at and keeps the newest opts.Limit of
// those created before opts.Before.
func page[T any](opts PageOptions, at func(T) int64) func([]T) []T {
	return func(items []T) []T {
		if !opts.Before.IsZero() {
			cut := opts.Before.UnixNano()
			kept := items[:0]
			for _, it := range items {
				if at(it) < cut {
					kept = append(kept, it)
				}
			}
			items = kept
		}
		sort.SliceStable(items, func(i, j int) bool { return at(items[i]) < at(items[j]) })
		if opts.Limit > 0 && len(items) > opts.Limit {
			items = items[len(items)-opts.Limit:]
		}
		return items
	}
}

// newestFirst orders items newest first by at and keeps at most limit.
func newestFirst[T any](limit int, at func(T) int64) func([]T) []T {
	return func(items []T) []T {
		sort.SliceStable(items, func(i, j int) bool { return at(items[i]) > at(items[j]) })
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		return items
	}
}

// ============================================================================
// Messages
// ============================================================================

type MessageRepository struct {
	api    MessageAPI
	col    *Collection[Message]
	policy SyncPolicy
}

func NewMessageRepository(api MessageAPI, store Store, policy SyncPolicy) *MessageRepository {
	return &MessageRepository{api: api, col: NewCollection[Message](store, KindMessage), policy: policy}
}

func messageTime(m Message) int64 { return m.CreatedAt.UnixNano() }

// Conversation returns a conversation's messages, oldest first.
func (r *MessageRepository) Conversation(ctx context.Context, conversationID string, opts PageOptions) ([]Message, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[[]Message]{
		Kind: KindMessage,
		Remote: func(ctx context.Context) ([]Message, error) {
			return r.api.ConversationMessages(ctx, conversationID, opts)
		},
		Persist: putAll(r.col),
		Cached: cachedList(r.col,
			func(m Message) bool { return m.ConversationID == conversationID },
			page(opts, messageTime)),
	})
}

func (r *MessageRepository) Get(ctx context.Context, id string) (Message, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[Message]{
		Kind:    KindMessage,
		Remote:  func(ctx context.Context) (Message, error) { return r.api.Get(ctx, id) },
		Persist: putOne(r.col),
		Cached:  cachedOne(r.col, id),
	})
}

func (r *MessageRepository) Send(ctx context.Context, req SendMessageRequest) (Message, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Message]{
		Kind:   KindMessage,
		Remote: func(ctx context.Context) (Message, error) { return r.api.Send(ctx, req) },
		Mirror: putOne(r.col),
	})
}

func (r *MessageRepository) Edit(ctx context.Context, id, content string) (Message, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Message]{
		Kind:   KindMessage,
		Remote: func(ctx context.Context) (Message, error) { return r.api.Edit(ctx, id, content) },
		Mirror: putOne(r.col),
	})
}

func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	_, err := SyncWrite(ctx, r.policy, WriteOp[struct{}]{
		Kind:   KindMessage,
		Remote: deleted(func() error { return r.api.Delete(ctx, id) }),
		Mirror: dropKey(r.col, id),
	})
	return err
}

func (r *MessageRepository) MarkRead(ctx context.Context, id string) (Message, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Message]{
		Kind:   KindMessage,
		Remote: func(ctx context.Context) (Message, error) { return r.api.MarkRead(ctx, id) },
		Mirror: putOne(r.col),
	})
}

// Cached returns the cached copy of id without asking the backend.
func (r *MessageRepository) Cached(ctx context.Context, id string) (Message, error) {
	return r.col.Get(ctx, id)
}

// Changes is the list-changed feed of cached messages.
func (r *MessageRepository) Changes() *Stream[ChangeEvent] { return r.col.Changes() }

// ============================================================================
// Calls
// ============================================================================

type CallRepository struct {
	api    CallAPI
	col    *Collection[Call]
	policy SyncPolicy
}

func NewCallRepository(api CallAPI, store Store, policy SyncPolicy) *CallRepository {
	return &CallRepository{api: api, col: NewCollection[Call](store, KindCall), policy: policy}
}

func callTime(c Call) int64 { return c.StartedAt.UnixNano() }

// History returns the call log, newest first.
func (r *CallRepository) History(ctx context.Context, opts PageOptions) ([]Call, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[[]Call]{
		Kind:    KindCall,
		Remote:  func(ctx context.Context) ([]Call, error) { return r.api.History(ctx, opts) },
		Persist: putAll(r.col),
		Cached: cachedList(r.col,
			func(c Call) bool { return opts.Before.IsZero() || c.StartedAt.Before(opts.Before) },
			newestFirst(opts.Limit, callTime)),
	})
}

func (r *CallRepository) Get(ctx context.Context, id string) (Call, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[Call]{
		Kind:    KindCall,
		Remote:  func(ctx context.Context) (Call, error) { return r.api.Get(ctx, id) },
		Persist: putOne(r.col),
		Cached:  cachedOne(r.col, id),
	})
}

func (r *CallRepository) Log(ctx context.Context, req LogCallRequest) (Call, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Call]{
		Kind:   KindCall,
		Remote: func(ctx context.Context) (Call, error) { return r.api.Log(ctx, req) },
		Mirror: putOne(r.col),
	})
}

func (r *CallRepository) Delete(ctx context.Context, id string) error {
	_, err := SyncWrite(ctx, r.policy, WriteOp[struct{}]{
		Kind:   KindCall,
		Remote: deleted(func() error { return r.api.Delete(ctx, id) }),
		Mirror: dropKey(r.col, id),
	})
	return err
}

func (r *CallRepository) Changes() *Stream[ChangeEvent] { return r.col.Changes() }

// ============================================================================
// Groups
// ============================================================================

type GroupRepository struct {
	api    GroupAPI
	col    *Collection[Group]
	policy SyncPolicy
}

func NewGroupRepository(api GroupAPI, store Store, policy SyncPolicy) *GroupRepository {
	return &GroupRepository{api: api, col: NewCollection[Group](store, KindGroup), policy: policy}
}

// List returns every group the user belongs to, ordered by name.
func (r *GroupRepository) List(ctx context.Context) ([]Group, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[[]Group]{
		Kind:    KindGroup,
		Remote:  r.api.List,
		Persist: putAll(r.col),
		Cached: cachedList(r.col, nil, func(gs []Group) []Group {
			sort.SliceStable(gs, func(i, j int) bool { return gs[i].Name < gs[j].Name })
			return gs
		}),
	})
}

func (r *GroupRepository) Get(ctx context.Context, id string) (Group, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[Group]{
		Kind:    KindGroup,
		Remote:  func(ctx context.Context) (Group, error) { return r.api.Get(ctx, id) },
		Persist: putOne(r.col),
		Cached:  cachedOne(r.col, id),
	})
}

func (r *GroupRepository) Create(ctx context.Context, req CreateGroupRequest) (Group, error) {
	return r.write(ctx, func(ctx context.Context) (Group, error) { return r.api.Create(ctx, req) })
}

func (r *GroupRepository) Update(ctx context.Context, id string, req UpdateGroupRequest) (Group, error) {
	return r.write(ctx, func(ctx context.Context) (Group, error) { return r.api.Update(ctx, id, req) })
}

func (r *GroupRepository) AddMember(ctx context.Context, id, userID string) (Group, error) {
	return r.write(ctx, func(ctx context.Context) (Group, error) { return r.api.AddMember(ctx, id, userID) })
}

func (r *GroupRepository) RemoveMember(ctx context.Context, id, userID string) (Group, error) {
	return r.write(ctx, func(ctx context.Context) (Group, error) { return r.api.RemoveMember(ctx, id, userID) })
}

func (r *GroupRepository) write(ctx context.Context, remote func(context.Context) (Group, error)) (Group, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Group]{Kind: KindGroup, Remote: remote, Mirror: putOne(r.col)})
}

func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	_, err := SyncWrite(ctx, r.policy, WriteOp[struct{}]{
		Kind:   KindGroup,
		Remote: deleted(func() error { return r.api.Delete(ctx, id) }),
		Mirror: dropKey(r.col, id),
	})
	return err
}

func (r *GroupRepository) Changes() *Stream[ChangeEvent] { return r.col.Changes() }

// ============================================================================
// Media
// ============================================================================

type MediaRepository struct {
	api    MediaAPI
	col    *Collection[Media]
	policy SyncPolicy
}

func NewMediaRepository(api MediaAPI, store Store, policy SyncPolicy) *MediaRepository {
	return &MediaRepository{api: api, col: NewCollection[Media](store, KindMedia), policy: policy}
}

// Conversation returns the media shared in a conversation, newest first.
func (r *MediaRepository) Conversation(ctx context.Context, conversationID string) ([]Media, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[[]Media]{
		Kind:    KindMedia,
		Remote:  func(ctx context.Context) ([]Media, error) { return r.api.ConversationMedia(ctx, conversationID) },
		Persist: putAll(r.col),
		Cached: cachedList(r.col,
			func(m Media) bool { return m.ConversationID == conversationID },
			newestFirst(0, func(m Media) int64 { return m.CreatedAt.UnixNano() })),
	})
}

func (r *MediaRepository) Get(ctx context.Context, id string) (Media, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[Media]{
		Kind:    KindMedia,
		Remote:  func(ctx context.Context) (Media, error) { return r.api.Get(ctx, id) },
		Persist: putOne(r.col),
		Cached:  cachedOne(r.col, id),
	})
}

func (r *MediaRepository) Register(ctx context.Context, req RegisterMediaRequest) (Media, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Media]{
		Kind:   KindMedia,
		Remote: func(ctx context.Context) (Media, error) { return r.api.Register(ctx, req) },
		Mirror: putOne(r.col),
	})
}

func (r *MediaRepository) Delete(ctx context.Context, id string) error {
	_, err := SyncWrite(ctx, r.policy, WriteOp[struct{}]{
		Kind:   KindMedia,
		Remote: deleted(func() error { return r.api.Delete(ctx, id) }),
		Mirror: dropKey(r.col, id),
	})
	return err
}

func (r *MediaRepository) Changes() *Stream[ChangeEvent] { return r.col.Changes() }

// ============================================================================
// Statuses
// ============================================================================

type StatusRepository struct {
	api    StatusAPI
	col    *Collection[Status]
	policy SyncPolicy
}

func NewStatusRepository(api StatusAPI, store Store, policy SyncPolicy) *StatusRepository {
	return &StatusRepository{api: api, col: NewCollection[Status](store, KindStatus), policy: policy}
}

// Feed returns the visible statuses, newest first.
func (r *StatusRepository) Feed(ctx context.Context) ([]Status, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[[]Status]{
		Kind:    KindStatus,
		Remote:  r.api.Feed,
		Persist: putAll(r.col),
		Cached:  cachedList(r.col, nil, newestFirst(0, func(s Status) int64 { return s.CreatedAt.UnixNano() })),
	})
}

func (r *StatusRepository) Get(ctx context.Context, id string) (Status, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[Status]{
		Kind:    KindStatus,
		Remote:  func(ctx context.Context) (Status, error) { return r.api.Get(ctx, id) },
		Persist: putOne(r.col),
		Cached:  cachedOne(r.col, id),
	})
}

func (r *StatusRepository) Post(ctx context.Context, req PostStatusRequest) (Status, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Status]{
		Kind:   KindStatus,
		Remote: func(ctx context.Context) (Status, error) { return r.api.Post(ctx, req) },
		Mirror: putOne(r.col),
	})
}

func (r *StatusRepository) MarkViewed(ctx context.Context, id string) (Status, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Status]{
		Kind:   KindStatus,
		Remote: func(ctx context.Context) (Status, error) { return r.api.MarkViewed(ctx, id) },
		Mirror: putOne(r.col),
	})
}

func (r *StatusRepository) Delete(ctx context.Context, id string) error {
	_, err := SyncWrite(ctx, r.policy, WriteOp[struct{}]{
		Kind:   KindStatus,
		Remote: deleted(func() error { return r.api.Delete(ctx, id) }),
		Mirror: dropKey(r.col, id),
	})
	return err
}

func (r *StatusRepository) Changes() *Stream[ChangeEvent] { return r.col.Changes() }

// ============================================================================
// Notifications
// ============================================================================

type NotificationRepository struct {
	api    NotificationAPI
	col    *Collection[Notification]
	policy SyncPolicy
}

func NewNotificationRepository(api NotificationAPI, store Store, policy SyncPolicy) *NotificationRepository {
	return &NotificationRepository{api: api, col: NewCollection[Notification](store, KindNotification), policy: policy}
}

// List returns notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, opts PageOptions) ([]Notification, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[[]Notification]{
		Kind:    KindNotification,
		Remote:  func(ctx context.Context) ([]Notification, error) { return r.api.List(ctx, opts) },
		Persist: putAll(r.col),
		Cached: cachedList(r.col,
			func(n Notification) bool { return opts.Before.IsZero() || n.CreatedAt.Before(opts.Before) },
			newestFirst(opts.Limit, func(n Notification) int64 { return n.CreatedAt.UnixNano() })),
	})
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (Notification, error) {
	return SyncWrite(ctx, r.policy, WriteOp[Notification]{
		Kind:   KindNotification,
		Remote: func(ctx context.Context) (Notification, error) { return r.api.MarkRead(ctx, id) },
		Mirror: putOne(r.col),
	})
}

func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	_, err := SyncWrite(ctx, r.policy, WriteOp[struct{}]{
		Kind:   KindNotification,
		Remote: deleted(func() error { return r.api.Delete(ctx, id) }),
		Mirror: dropKey(r.col, id),
	})
	return err
}

func (r *NotificationRepository) Changes() *Stream[ChangeEvent] { return r.col.Changes() }

// ============================================================================
// Users
// ============================================================================

// meKey is the session record naming the signed-in user.
const meKey = "me"

const kindSession Kind = "session"

type UserRepository struct {
	api     UserAPI
	col     *Collection[User]
	session Store
	policy  SyncPolicy
}

func NewUserRepository(api UserAPI, store Store, policy SyncPolicy) *UserRepository {
	return &UserRepository{api: api, col: NewCollection[User](store, KindUser), session: store, policy: policy}
}

// Me returns the signed-in user's profile.
func (r *UserRepository) Me(ctx context.Context) (User, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[User]{
		Kind:    KindUser,
		Remote:  r.api.Me,
		Persist: r.putMe,
		Cached: func(ctx context.Context) (User, bool, error) {
			id, err := r.session.Get(ctx, kindSession, meKey)
			if err != nil {
				return User{}, false, err
			}
			return cachedOne(r.col, string(id))(ctx)
		},
	})
}

func (r *UserRepository) putMe(ctx context.Context, u User) error {
	if err := r.col.Put(ctx, u); err != nil {
		return err
	}
	return r.session.Upsert(ctx, kindSession, Record{Key: meKey, Value: []byte(u.ID)})
}

func (r *UserRepository) Get(ctx context.Context, id string) (User, Origin, error) {
	return SyncRead(ctx, r.policy, ReadOp[User]{
		Kind:    KindUser,
		Remote:  func(ctx context.Context) (User, error) { return r.api.Get(ctx, id) },
		Persist: putOne(r.col),
		Cached:  cachedOne(r.col, id),
	})
}

func (r *UserRepository) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (User, error) {
	return SyncWrite(ctx, r.policy, WriteOp[User]{
		Kind:   KindUser,
		Remote: func(ctx context.Context) (User, error) { return r.api.UpdateProfile(ctx, req) },
		Mirror: r.putMe,
	})
}

// Search matches query against cached usernames and display names when the
// backend is unreachable.
func (r *UserRepository) Search(ctx context.Context, query string) ([]User, Origin, error) {
	q := strings.ToLower(query)
	return SyncRead(ctx, r.policy, ReadOp[[]User]{
		Kind:    KindUser,
		Remote:  func(ctx context.Context) ([]User, error) { return r.api.Search(ctx, query) },
		Persist: putAll(r.col),
		Cached: cachedList(r.col, func(u User) bool {
			return strings.Contains(strings.ToLower(u.Username), q) ||
				strings.Contains(strings.ToLower(u.DisplayName), q)
		}, nil),
	})
}

func (r *UserRepository) Changes() *Stream[ChangeEvent] { return r.col.Changes() }
