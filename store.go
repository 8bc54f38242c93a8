package chatsync

import (
	"context"
	"sort"
	"sync"
)

// Kind names one entity type in the local cache.
type Kind string

const (
	KindMessage      Kind = "message"
	KindCall         Kind = "call"
	KindGroup        Kind = "group"
	KindStatus       Kind = "status"
	KindMedia        Kind = "media"
	KindNotification Kind = "notification"
	KindUser         Kind = "user"
)

// Op is the mutation reported by a ChangeEvent.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Record is one cached entity in its encoded form.
type Record struct {
	Key   string
	Value []byte
}

// ChangeEvent reports that the listed keys of Kind were mutated.
type ChangeEvent struct {
	Kind Kind
	Op   Op
	Keys []string
}

// Store is the local cache. Entries are addressed by (kind, key) and are
// only removed by Delete; a Store never evicts.
//
// Implementations must be safe for concurrent use. A single Upsert or Delete
// call is atomic.
type Store interface {
	Upsert(ctx context.Context, kind Kind, records ...Record) error
	Delete(ctx context.Context, kind Kind, keys ...string) error
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, kind Kind, key string) ([]byte, error)
	// List returns every record of kind, ordered by key.
	List(ctx context.Context, kind Kind) ([]Record, error)
	// Watch returns the list-changed feed of kind.
	Watch(kind Kind) *Stream[ChangeEvent]
	Close() error
}

// ============================================================================
// Change Feeds
// ============================================================================

// watchHub holds one change feed per kind, created on first use.
type watchHub struct {
	buffer int
	mu     sync.Mutex
	feeds  map[Kind]*Stream[ChangeEvent]
	closed bool
}

func newWatchHub(buffer int) *watchHub {
	return &watchHub{buffer: buffer, feeds: make(map[Kind]*Stream[ChangeEvent])}
}

func (h *watchHub) feed(kind Kind) *Stream[ChangeEvent] {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.feeds[kind]
	if !ok {
		s = NewStream[ChangeEvent]("store."+string(kind), h.buffer)
		if h.closed {
			s.Close()
		}
		h.feeds[kind] = s
	}
	return s
}

func (h *watchHub) publish(kind Kind, op Op, keys []string) {
	if len(keys) == 0 {
		return
	}
	h.mu.Lock()
	s := h.feeds[kind]
	h.mu.Unlock()
	if s != nil {
		s.Publish(ChangeEvent{Kind: kind, Op: op, Keys: keys})
	}
}

func (h *watchHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, s := range h.feeds {
		s.Close()
	}
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore is a goroutine-safe in-memory Store. Values are copied on the
// way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[Kind]map[string][]byte
	closed bool
	hub    *watchHub
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[Kind]map[string][]byte),
		hub:  newWatchHub(DefaultStreamBuffer),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, kind Kind, records ...Record) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	bucket, ok := s.data[kind]
	if !ok {
		bucket = make(map[string][]byte)
		s.data[kind] = bucket
	}
	keys := make([]string, 0, len(records))
	for _, r := range records {
		bucket[r.Key] = append([]byte(nil), r.Value...)
		keys = append(keys, r.Key)
	}
	s.mu.Unlock()

	s.hub.publish(kind, OpUpsert, keys)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, kind Kind, keys ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var removed []string
	for _, k := range keys {
		if _, ok := s.data[kind][k]; ok {
			delete(s.data[kind], k)
			removed = append(removed, k)
		}
	}
	s.mu.Unlock()

	s.hub.publish(kind, OpDelete, removed)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, kind Kind, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[kind][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) List(_ context.Context, kind Kind) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(s.data[kind]))
	for k, v := range s.data[kind] {
		out = append(out, Record{Key: k, Value: append([]byte(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Watch(kind Kind) *Stream[ChangeEvent] { return s.hub.feed(kind) }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.close()
	return nil
}
