package chatsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

// fakeBackend is an in-memory stand-in for the REST API. Setting down makes
// every call fail with errOffline.
type fakeBackend struct {
	mu       sync.Mutex
	down     bool
	messages map[string]Message
	groups   map[string]Group
	users    map[string]User
	me       string
	calls    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages: make(map[string]Message),
		groups:   make(map[string]Group),
		users:    make(map[string]User),
	}
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *fakeBackend) enter() (func(), error) {
	b.mu.Lock()
	b.calls++
	if b.down {
		b.mu.Unlock()
		return nil, errOffline
	}
	return b.mu.Unlock, nil
}

func (b *fakeBackend) ConversationMessages(_ context.Context, conversationID string, opts PageOptions) ([]Message, error) {
	unlock, err := b.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []Message
	for _, m := range b.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return page(opts, messageTime)(out), nil
}

func (b *fakeBackend) Get(_ context.Context, id string) (Message, error) {
	unlock, err := b.enter()
	if err != nil {
		return Message{}, err
	}
	defer unlock()
	m, ok := b.messages[id]
	if !ok {
		return Message{}, &APIError{Status: 404, Message: "no such message"}
	}
	return m, nil
}

func (b *fakeBackend) Send(_ context.Context, req SendMessageRequest) (Message, error) {
	unlock, err := b.enter()
	if err != nil {
		return Message{}, err
	}
	defer unlock()
	m := Message{
		ID:             "srv-" + req.ClientID,
		ClientID:       req.ClientID,
		ConversationID: req.ConversationID,
		Type:           req.Type,
		Content:        req.Content,
		Status:         MessageSent,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, len(b.messages), 0, time.UTC),
	}
	b.messages[m.ID] = m
	return m, nil
}

func (b *fakeBackend) Edit(_ context.Context, id, content string) (Message, error) {
	unlock, err := b.enter()
	if err != nil {
		return Message{}, err
	}
	defer unlock()
	m := b.messages[id]
	m.Content, m.Edited = content, true
	b.messages[id] = m
	return m, nil
}

func (b *fakeBackend) Delete(_ context.Context, id string) error {
	unlock, err := b.enter()
	if err != nil {
		return err
	}
	defer unlock()
	delete(b.messages, id)
	return nil
}

func (b *fakeBackend) MarkRead(_ context.Context, id string) (Message, error) {
	unlock, err := b.enter()
	if err != nil {
		return Message{}, err
	}
	defer unlock()
	m := b.messages[id]
	m.Status = MessageRead
	b.messages[id] = m
	return m, nil
}

// groupBackend adapts fakeBackend to GroupAPI.
type groupBackend struct{ *fakeBackend }

func (g groupBackend) List(context.Context) ([]Group, error) {
	unlock, err := g.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]Group, 0, len(g.groups))
	for _, gr := range g.groups {
		out = append(out, gr)
	}
	return out, nil
}

func (g groupBackend) Get(_ context.Context, id string) (Group, error) {
	unlock, err := g.enter()
	if err != nil {
		return Group{}, err
	}
	defer unlock()
	return g.groups[id], nil
}

func (g groupBackend) Create(_ context.Context, req CreateGroupRequest) (Group, error) {
	unlock, err := g.enter()
	if err != nil {
		return Group{}, err
	}
	defer unlock()
	gr := Group{ID: "g-" + req.Name, Name: req.Name, MemberIDs: req.MemberIDs}
	g.groups[gr.ID] = gr
	return gr, nil
}

func (g groupBackend) Update(_ context.Context, id string, req UpdateGroupRequest) (Group, error) {
	unlock, err := g.enter()
	if err != nil {
		return Group{}, err
	}
	defer unlock()
	gr := g.groups[id]
	if req.Name != "" {
		gr.Name = req.Name
	}
	g.groups[id] = gr
	return gr, nil
}

func (g groupBackend) AddMember(_ context.Context, id, userID string) (Group, error) {
	unlock, err := g.enter()
	if err != nil {
		return Group{}, err
	}
	defer unlock()
	gr := g.groups[id]
	gr.MemberIDs = append(gr.MemberIDs, userID)
	g.groups[id] = gr
	return gr, nil
}

func (g groupBackend) RemoveMember(_ context.Context, id, userID string) (Group, error) {
	unlock, err := g.enter()
	if err != nil {
		return Group{}, err
	}
	defer unlock()
	gr := g.groups[id]
	kept := gr.MemberIDs[:0]
	for _, m := range gr.MemberIDs {
		if m != userID {
			kept = append(kept, m)
		}
	}
	gr.MemberIDs = kept
	g.groups[id] = gr
	return gr, nil
}

func (g groupBackend) Delete(_ context.Context, id string) error {
	unlock, err := g.enter()
	if err != nil {
		return err
	}
	defer unlock()
	delete(g.groups, id)
	return nil
}

// userBackend adapts fakeBackend to UserAPI.
type userBackend struct{ *fakeBackend }

func (u userBackend) Me(context.Context) (User, error) {
	unlock, err := u.enter()
	if err != nil {
		return User{}, err
	}
	defer unlock()
	return u.users[u.me], nil
}

func (u userBackend) Get(_ context.Context, id string) (User, error) {
	unlock, err := u.enter()
	if err != nil {
		return User{}, err
	}
	defer unlock()
	return u.users[id], nil
}

func (u userBackend) UpdateProfile(_ context.Context, req UpdateProfileRequest) (User, error) {
	unlock, err := u.enter()
	if err != nil {
		return User{}, err
	}
	defer unlock()
	me := u.users[u.me]
	me.DisplayName = req.DisplayName
	u.users[u.me] = me
	return me, nil
}

func (u userBackend) Search(_ context.Context, query string) ([]User, error) {
	unlock, err := u.enter()
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []User
	for _, usr := range u.users {
		if usr.Username == query {
			out = append(out, usr)
		}
	}
	return out, nil
}

func seedConversation(t *testing.T, b *fakeBackend, conv string, n int) {
	t.Helper()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := conv + "-" + string(rune('a'+i))
		b.messages[id] = Message{ID: id, ConversationID: conv, Content: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
	}
}

// ============================================================================
// Messages
// ============================================================================

func TestMessageRepository_ConversationFallback(t *testing.T) {
	backend := newFakeBackend()
	seedConversation(t, backend, "c1", 4)
	seedConversation(t, backend, "c2", 2)
	repo := NewMessageRepository(backend, NewMemoryStore(), SyncPolicy{})
	ctx := context.Background()

	fresh, origin, err := repo.Conversation(ctx, "c1", PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, FromBackend, origin)
	require.Len(t, fresh, 4)
	_, _, err = repo.Conversation(ctx, "c2", PageOptions{})
	require.NoError(t, err)

	backend.setDown(true)
	cached, origin, err := repo.Conversation(ctx, "c1", PageOptions{})
	require.NoError(t, err)
	assert.Equal(t, FromCache, origin)
	assert.Equal(t, fresh, cached)

	last2, _, err := repo.Conversation(ctx, "c1", PageOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, []string{"c1-c", "c1-d"}, []string{last2[0].ID, last2[1].ID})

	older, _, err := repo.Conversation(ctx, "c1", PageOptions{Before: fresh[2].CreatedAt})
	require.NoError(t, err)
	assert.Len(t, older, 2)

	_, _, err = repo.Conversation(ctx, "never-seen", PageOptions{})
	assert.ErrorIs(t, err, errOffline)
}

func TestMessageRepository_FailedWritesLeaveCache(t *testing.T) {
	backend := newFakeBackend()
	seedConversation(t, backend, "c1", 1)
	store := NewMemoryStore()
	repo := NewMessageRepository(backend, store, SyncPolicy{})
	ctx := context.Background()

	_, _, err := repo.Get(ctx, "c1-a")
	require.NoError(t, err)
	before, err := store.Get(ctx, KindMessage, "c1-a")
	require.NoError(t, err)

	backend.setDown(true)
	_, err = repo.Edit(ctx, "c1-a", "changed")
	assert.ErrorIs(t, err, errOffline)
	_, err = repo.MarkRead(ctx, "c1-a")
	assert.ErrorIs(t, err, errOffline)
	assert.ErrorIs(t, repo.Delete(ctx, "c1-a"), errOffline)
	_, err = repo.Send(ctx, SendMessageRequest{ClientID: "x", ConversationID: "c1", Content: "lost"})
	assert.ErrorIs(t, err, errOffline)

	after, err := store.Get(ctx, KindMessage, "c1-a")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	list, err := store.List(ctx, KindMessage)
	require.NoError(t, err)
	assert.Len(t, list, 1, "no optimistic insert")
}

func TestMessageRepository_WritesMirror(t *testing.T) {
	backend := newFakeBackend()
	repo := NewMessageRepository(backend, NewMemoryStore(), SyncPolicy{})
	ctx := context.Background()
	changes, cancel := repo.Changes().Subscribe(ctx)
	defer cancel()

	sent, err := repo.Send(ctx, SendMessageRequest{ClientID: "k1", ConversationID: "c1", Type: "text", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, ChangeEvent{Kind: KindMessage, Op: OpUpsert, Keys: []string{sent.ID}}, recvWithin(t, changes))

	_, err = repo.Edit(ctx, sent.ID, "hello!")
	require.NoError(t, err)
	cached, err := repo.Cached(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello!", cached.Content)
	assert.True(t, cached.Edited)

	_, err = repo.MarkRead(ctx, sent.ID)
	require.NoError(t, err)
	cached, err = repo.Cached(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, MessageRead, cached.Status)

	require.NoError(t, repo.Delete(ctx, sent.ID))
	_, err = repo.Cached(ctx, sent.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// Groups & Users
// ============================================================================

func TestGroupRepository_ListSortedFromCache(t *testing.T) {
	backend := newFakeBackend()
	repo := NewGroupRepository(groupBackend{backend}, NewMemoryStore(), SyncPolicy{})
	ctx := context.Background()

	_, err := repo.Create(ctx, CreateGroupRequest{Name: "zebra", MemberIDs: []string{"u1"}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, CreateGroupRequest{Name: "alpha", MemberIDs: []string{"u1"}})
	require.NoError(t, err)
	g, err := repo.AddMember(ctx, "g-alpha", "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, g.MemberIDs)

	backend.setDown(true)
	groups, origin, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, FromCache, origin)
	require.Len(t, groups, 2)
	assert.Equal(t, "alpha", groups[0].Name)
	assert.Equal(t, []string{"u1", "u2"}, groups[0].MemberIDs)

	assert.ErrorIs(t, repo.Delete(ctx, "g-zebra"), errOffline)
	cached, origin, err := repo.Get(ctx, "g-zebra")
	require.NoError(t, err)
	assert.Equal(t, FromCache, origin)
	assert.Equal(t, "zebra", cached.Name)
}

func TestUserRepository_MeAndOfflineSearch(t *testing.T) {
	backend := newFakeBackend()
	backend.users["u1"] = User{ID: "u1", Username: "ada", DisplayName: "Ada Lovelace"}
	backend.users["u2"] = User{ID: "u2", Username: "grace", DisplayName: "Grace Hopper"}
	backend.me = "u1"
	repo := NewUserRepository(userBackend{backend}, NewMemoryStore(), SyncPolicy{})
	ctx := context.Background()

	me, _, err := repo.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", me.Username)
	_, _, err = repo.Get(ctx, "u2")
	require.NoError(t, err)

	backend.setDown(true)
	me, origin, err := repo.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, FromCache, origin)
	assert.Equal(t, "u1", me.ID)

	found, origin, err := repo.Search(ctx, "HOPPER")
	require.NoError(t, err)
	assert.Equal(t, FromCache, origin)
	require.Len(t, found, 1)
	assert.Equal(t, "u2", found[0].ID)

	_, _, err = repo.Search(ctx, "nobody")
	assert.ErrorIs(t, err, errOffline)
}

func TestUserRepository_MeWithoutSession(t *testing.T) {
	backend := newFakeBackend()
	backend.setDown(true)
	repo := NewUserRepository(userBackend{backend}, NewMemoryStore(), SyncPolicy{})

	_, _, err := repo.Me(context.Background())
	assert.ErrorIs(t, err, errOffline)
}

// ============================================================================
// Failed writes across repositories
// ============================================================================

// Backends that are always unreachable, one per API contract.
type (
	downCalls         struct{}
	downGroups        struct{}
	downMedia         struct{}
	downStatuses      struct{}
	downNotifications struct{}
	downUsers         struct{}
)

func (downCalls) History(context.Context, PageOptions) ([]Call, error) { return nil, errOffline }
func (downCalls) Get(context.Context, string) (Call, error)            { return Call{}, errOffline }
func (downCalls) Log(context.Context, LogCallRequest) (Call, error)    { return Call{}, errOffline }
func (downCalls) Delete(context.Context, string) error                 { return errOffline }
func (downGroups) List(context.Context) ([]Group, error)               { return nil, errOffline }
func (downGroups) Get(context.Context, string) (Group, error)          { return Group{}, errOffline }
func (downGroups) Create(context.Context, CreateGroupRequest) (Group, error) {
	return Group{}, errOffline
}
func (downGroups) Update(context.Context, string, UpdateGroupRequest) (Group, error) {
	return Group{}, errOffline
}
func (downGroups) AddMember(context.Context, string, string) (Group, error) {
	return Group{}, errOffline
}
func (downGroups) RemoveMember(context.Context, string, string) (Group, error) {
	return Group{}, errOffline
}
func (downGroups) Delete(context.Context, string) error { return errOffline }

func (downMedia) ConversationMedia(context.Context, string) ([]Media, error) { return nil, errOffline }
func (downMedia) Get(context.Context, string) (Media, error)                 { return Media{}, errOffline }
func (downMedia) Register(context.Context, RegisterMediaRequest) (Media, error) {
	return Media{}, errOffline
}
func (downMedia) Delete(context.Context, string) error { return errOffline }

func (downStatuses) Feed(context.Context) ([]Status, error)      { return nil, errOffline }
func (downStatuses) Get(context.Context, string) (Status, error) { return Status{}, errOffline }
func (downStatuses) Post(context.Context, PostStatusRequest) (Status, error) {
	return Status{}, errOffline
}
func (downStatuses) Delete(context.Context, string) error               { return errOffline }
func (downStatuses) MarkViewed(context.Context, string) (Status, error) { return Status{}, errOffline }

func (downNotifications) List(context.Context, PageOptions) ([]Notification, error) {
	return nil, errOffline
}
func (downNotifications) MarkRead(context.Context, string) (Notification, error) {
	return Notification{}, errOffline
}
func (downNotifications) Delete(context.Context, string) error { return errOffline }

func (downUsers) Me(context.Context) (User, error)               { return User{}, errOffline }
func (downUsers) Get(context.Context, string) (User, error)      { return User{}, errOffline }
func (downUsers) Search(context.Context, string) ([]User, error) { return nil, errOffline }
func (downUsers) UpdateProfile(context.Context, UpdateProfileRequest) (User, error) {
	return User{}, errOffline
}

// snapshot returns every raw record in the store, by kind.
func snapshot(t *testing.T, store Store) map[Kind][]Record {
	t.Helper()
	out := make(map[Kind][]Record)
	for _, kind := range []Kind{KindMessage, KindCall, KindGroup, KindStatus, KindMedia, KindNotification, KindUser, kindSession} {
		recs, err := store.List(context.Background(), kind)
		require.NoError(t, err)
		out[kind] = recs
	}
	return out
}

func TestRepositories_FailedWritesLeaveCacheUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	var policy SyncPolicy

	require.NoError(t, NewCollection[Call](store, KindCall).Put(ctx, Call{ID: "k1", State: "ended"}))
	require.NoError(t, NewCollection[Group](store, KindGroup).Put(ctx, Group{ID: "g1", Name: "team", MemberIDs: []string{"u1"}}))
	require.NoError(t, NewCollection[Media](store, KindMedia).Put(ctx, Media{ID: "d1"}))
	require.NoError(t, NewCollection[Status](store, KindStatus).Put(ctx, Status{ID: "s1", UserID: "u1"}))
	require.NoError(t, NewCollection[Notification](store, KindNotification).Put(ctx, Notification{ID: "n1"}))
	require.NoError(t, NewCollection[User](store, KindUser).Put(ctx, User{ID: "u1", Username: "ada"}))
	require.NoError(t, store.Upsert(ctx, kindSession, Record{Key: meKey, Value: []byte("u1")}))

	calls := NewCallRepository(downCalls{}, store, policy)
	groups := NewGroupRepository(downGroups{}, store, policy)
	media := NewMediaRepository(downMedia{}, store, policy)
	statuses := NewStatusRepository(downStatuses{}, store, policy)
	notes := NewNotificationRepository(downNotifications{}, store, policy)
	users := NewUserRepository(downUsers{}, store, policy)

	errOf := func(_ any, err error) error { return err }
	writes := []struct {
		name string
		do   func() error
	}{
		{"call log", func() error { return errOf(calls.Log(ctx, LogCallRequest{Kind: "audio"})) }},
		{"call delete", func() error { return calls.Delete(ctx, "k1") }},
		{"group create", func() error { return errOf(groups.Create(ctx, CreateGroupRequest{Name: "new"})) }},
		{"group update", func() error { return errOf(groups.Update(ctx, "g1", UpdateGroupRequest{Name: "renamed"})) }},
		{"group add member", func() error { return errOf(groups.AddMember(ctx, "g1", "u2")) }},
		{"group remove member", func() error { return errOf(groups.RemoveMember(ctx, "g1", "u1")) }},
		{"group delete", func() error { return groups.Delete(ctx, "g1") }},
		{"media register", func() error { return errOf(media.Register(ctx, RegisterMediaRequest{Kind: "image"})) }},
		{"media delete", func() error { return media.Delete(ctx, "d1") }},
		{"status post", func() error { return errOf(statuses.Post(ctx, PostStatusRequest{Kind: "text"})) }},
		{"status mark viewed", func() error { return errOf(statuses.MarkViewed(ctx, "s1")) }},
		{"status delete", func() error { return statuses.Delete(ctx, "s1") }},
		{"notification mark read", func() error { return errOf(notes.MarkRead(ctx, "n1")) }},
		{"notification delete", func() error { return notes.Delete(ctx, "n1") }},
		{"user update profile", func() error { return errOf(users.UpdateProfile(ctx, UpdateProfileRequest{DisplayName: "Ada"})) }},
	}

	for _, w := range writes {
		t.Run(w.name, func(t *testing.T) {
			before := snapshot(t, store)
			assert.ErrorIs(t, w.do(), errOffline)
			assert.Equal(t, before, snapshot(t, store))
		})
	}
}
