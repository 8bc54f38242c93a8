package chatsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PushApplier folds realtime events into the local cache so cached entities
// follow pushes as well as fetches. Every fold is an idempotent upsert or
// delete; applying the same envelope twice leaves the same cache.
type PushApplier struct {
	messages      *Collection[Message]
	calls         *Collection[Call]
	groups        *Collection[Group]
	statuses      *Collection[Status]
	notifications *Collection[Notification]
	users         *Collection[User]
	log           *zap.Logger
}

func NewPushApplier(store Store, logger *zap.Logger) *PushApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushApplier{
		messages:      NewCollection[Message](store, KindMessage),
		calls:         NewCollection[Call](store, KindCall),
		groups:        NewCollection[Group](store, KindGroup),
		statuses:      NewCollection[Status](store, KindStatus),
		notifications: NewCollection[Notification](store, KindNotification),
		users:         NewCollection[User](store, KindUser),
		log:           logger.Named("push"),
	}
}

// Run applies every envelope from the manager's channels until ctx is done
// or the channels are closed.
func (p *PushApplier) Run(ctx context.Context, m *Manager) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	merged := make(chan Envelope)
	var wg sync.WaitGroup
	for _, ch := range m.Channels() {
		sub, unsubscribe := ch.All().Subscribe(ctx)
		defer unsubscribe()
		wg.Add(1)
		go func(sub <-chan Envelope) {
			defer wg.Done()
			for env := range sub {
				select {
				case merged <- env:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-drained:
			return nil
		case env := <-merged:
			if err := p.Apply(ctx, env); err != nil {
				p.log.Warn("apply push", zap.String("type", string(env.Type)), zap.Error(err))
			}
		}
	}
}

// Apply folds one envelope. Envelopes that carry no cacheable change, and
// changes to entities that are not cached, are ignored.
func (p *PushApplier) Apply(ctx context.Context, env Envelope) error {
	switch pl := env.Payload.(type) {
	case *Message:
		return p.messages.Put(ctx, *pl)
	case *ReceiptPayload:
		if env.Type == TypeMessageDeleted {
			return p.messages.Delete(ctx, pl.MessageID)
		}
		return p.applyReceipt(ctx, env.Type, pl)
	case *CallPayload:
		return p.applyCall(ctx, env.Type, pl)
	case *GroupPayload:
		return p.applyGroup(ctx, env.Type, pl)
	case *StatusPayload:
		return p.applyStatus(ctx, env.Type, pl)
	case *Notification:
		return p.notifications.Put(ctx, *pl)
	case *PresencePayload:
		return p.applyPresence(ctx, env.Type, pl)
	}
	return nil
}

// update applies fn to the cached entity id and writes it back. A missing
// entity is not an error.
func update[T Entity](ctx context.Context, c *Collection[T], id string, fn func(*T)) error {
	v, err := c.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	fn(&v)
	return c.Put(ctx, v)
}

func (p *PushApplier) applyReceipt(ctx context.Context, t MessageType, r *ReceiptPayload) error {
	var at *time.Time
	if r.At != nil && !r.At.IsZero() {
		v := *r.At
		at = &v
	}
	// Without a timestamp only the status moves.
	return update(ctx, p.messages, r.MessageID, func(m *Message) {
		switch t {
		case TypeMessageRead:
			m.Status = MessageRead
			if m.ReadAt == nil {
				m.ReadAt = at
			}
		case TypeMessageDelivered:
			if m.Status != MessageRead {
				m.Status = MessageDelivered
			}
			if m.DeliveredAt == nil {
				m.DeliveredAt = at
			}
		}
	})
}

var callStates = map[MessageType]string{
	TypeCallRinging:  "ringing",
	TypeCallAccepted: "accepted",
	TypeCallRejected: "rejected",
	TypeCallEnded:    "ended",
	TypeCallMissed:   "missed",
}

func (p *PushApplier) applyCall(ctx context.Context, t MessageType, c *CallPayload) error {
	state, ok := callStates[t]
	if !ok {
		return nil
	}
	return update(ctx, p.calls, c.CallID, func(call *Call) { call.State = state })
}

func (p *PushApplier) applyGroup(ctx context.Context, t MessageType, g *GroupPayload) error {
	if g.Group != nil && (t == TypeGroupCreated || t == TypeGroupUpdated) {
		return p.groups.Put(ctx, *g.Group)
	}
	switch t {
	case TypeGroupMemberAdded:
		return update(ctx, p.groups, g.GroupID, func(grp *Group) {
			grp.MemberIDs = addUnique(grp.MemberIDs, g.UserID)
		})
	case TypeGroupMemberRemoved:
		return update(ctx, p.groups, g.GroupID, func(grp *Group) {
			grp.MemberIDs = remove(grp.MemberIDs, g.UserID)
		})
	}
	return nil
}

func (p *PushApplier) applyStatus(ctx context.Context, t MessageType, s *StatusPayload) error {
	switch t {
	case TypeStatusCreated:
		if s.Status != nil {
			return p.statuses.Put(ctx, *s.Status)
		}
	case TypeStatusDeleted:
		return p.statuses.Delete(ctx, s.StatusID)
	case TypeStatusViewed:
		return update(ctx, p.statuses, s.StatusID, func(st *Status) {
			st.ViewerIDs = addUnique(st.ViewerIDs, s.ViewerID)
		})
	case TypeStatusReaction:
		return update(ctx, p.statuses, s.StatusID, func(st *Status) {
			if st.Reactions == nil {
				st.Reactions = make(map[string]string)
			}
			st.Reactions[s.UserID] = s.Reaction
		})
	}
	return nil
}

func (p *PushApplier) applyPresence(ctx context.Context, t MessageType, pr *PresencePayload) error {
	online := pr.Online
	switch t {
	case TypeUserOnline:
		online = true
	case TypeUserOffline:
		online = false
	}
	return update(ctx, p.users, pr.UserID, func(u *User) {
		u.Online = online
		if pr.LastSeen != nil {
			ls := pr.LastSeen.UTC().Truncate(time.Millisecond)
			u.LastSeen = &ls
		}
	})
}

func addUnique(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
