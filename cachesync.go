package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ============================================================================
// Typed Collections
// ============================================================================

// Collection is a typed view of one kind in a Store. Entities are stored as
// JSON under their CacheKey.
type Collection[T Entity] struct {
	store Store
	kind  Kind
}

// NewCollection returns the collection of kind in store.
func NewCollection[T Entity](store Store, kind Kind) *Collection[T] {
	return &Collection[T]{store: store, kind: kind}
}

func (c *Collection[T]) Kind() Kind { return c.kind }

// Put upserts items in one store call.
func (c *Collection[T]) Put(ctx context.Context, items ...T) error {
	if len(items) == 0 {
		return nil
	}
	records := make([]Record, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", c.kind, it.CacheKey(), err)
		}
		records = append(records, Record{Key: it.CacheKey(), Value: b})
	}
	return c.store.Upsert(ctx, c.kind, records...)
}

// Get returns ErrNotFound when id is not cached.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	b, err := c.store.Get(ctx, c.kind, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", c.kind, id, err)
	}
	return v, nil
}

func (c *Collection[T]) Delete(ctx context.Context, ids ...string) error {
	return c.store.Delete(ctx, c.kind, ids...)
}

// List returns the cached entities accepted by keep, ordered by key. A nil
// keep accepts everything.
func (c *Collection[T]) List(ctx context.Context, keep func(T) bool) ([]T, error) {
	records, err := c.store.List(ctx, c.kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", c.kind, r.Key, err)
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Changes is the store's list-changed feed for this kind.
func (c *Collection[T]) Changes() *Stream[ChangeEvent] { return c.store.Watch(c.kind) }

// ============================================================================
// Cache-Sync Policy
// ============================================================================

// Origin reports where a read answer came from.
type Origin int

const (
	FromBackend Origin = iota
	FromCache
)

func (o Origin) String() string {
	if o == FromCache {
		return "cache"
	}
	return "backend"
}

// SyncPolicy carries the logging and metrics every cache-synced repository
// shares. The zero value is usable.
type SyncPolicy struct {
	Logger  *zap.Logger
	Metrics *Metrics
}

func (p SyncPolicy) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// ReadOp is one cache-synced read.
type ReadOp[T any] struct {
	Kind Kind
	// Remote asks the backend.
	Remote func(ctx context.Context) (T, error)
	// Persist writes a fresh answer into the cache.
	Persist func(ctx context.Context, v T) error
	// Cached rebuilds the answer from the cache and reports whether it is
	// non-empty.
	Cached func(ctx context.Context) (T, bool, error)
}

// SyncRead asks the backend first. A fresh answer is persisted and returned
// even if persisting fails. When the backend fails, a non-empty cached answer
// is returned as FromCache with a nil error; an empty cache returns the
// backend's error unchanged.
func SyncRead[T any](ctx context.Context, p SyncPolicy, op ReadOp[T]) (T, Origin, error) {
	log := p.logger().With(zap.String("kind", string(op.Kind)))

	v, err := op.Remote(ctx)
	if err == nil {
		if perr := op.Persist(ctx, v); perr != nil {
			p.Metrics.incCacheError(string(op.Kind))
			log.Warn("cache update after read failed", zap.Error(perr))
		}
		return v, FromBackend, nil
	}

	cached, ok, cerr := op.Cached(ctx)
	if cerr != nil && !errors.Is(cerr, ErrNotFound) {
		log.Warn("cache read failed", zap.Error(cerr))
	}
	if cerr == nil && ok {
		p.Metrics.incCacheFallback(string(op.Kind))
		log.Info("backend read failed, serving cache", zap.Error(err))
		return cached, FromCache, nil
	}

	var zero T
	return zero, FromBackend, err
}

// WriteOp is one cache-synced mutation.
type WriteOp[T any] struct {
	Kind   Kind
	Remote func(ctx context.Context) (T, error)
	// Mirror applies the confirmed change to the cache. Nil means the write
	// has no cached counterpart.
	Mirror func(ctx context.Context, v T) error
}

// SyncWrite calls the backend and, only if it succeeds, mirrors the change.
// A backend failure is always returned and leaves the cache untouched. A
// mirror failure is logged; the backend result is still returned.
func SyncWrite[T any](ctx context.Context, p SyncPolicy, op WriteOp[T]) (T, error) {
	log := p.logger().With(zap.String("kind", string(op.Kind)))

	v, err := op.Remote(ctx)
	if err != nil {
		p.Metrics.incWriteFailure(string(op.Kind))
		var zero T
		return zero, err
	}
	if op.Mirror != nil {
		if merr := op.Mirror(ctx, v); merr != nil {
			p.Metrics.incCacheError(string(op.Kind))
			log.Warn("cache update after write failed", zap.Error(merr))
		}
	}
	return v, nil
}

// cachedOne adapts a Collection lookup to ReadOp.Cached.
func cachedOne[T Entity](c *Collection[T], id string) func(context.Context) (T, bool, error) {
	return func(ctx context.Context) (T, bool, error) {
		v, err := c.Get(ctx, id)
		if err != nil {
			return v, false, err
		}
		return v, true, nil
	}
}

// cachedList adapts a filtered Collection listing to ReadOp.Cached. shape, if
// set, orders and trims the result.
func cachedList[T Entity](c *Collection[T], keep func(T) bool, shape func([]T) []T) func(context.Context) ([]T, bool, error) {
	return func(ctx context.Context) ([]T, bool, error) {
		items, err := c.List(ctx, keep)
		if err != nil {
			return nil, false, err
		}
		if shape != nil {
			items = shape(items)
		}
		return items, len(items) > 0, nil
	}
}

func putOne[T Entity](c *Collection[T]) func(context.Context, T) error {
	return func(ctx context.Context, v T) error { return c.Put(ctx, v) }
}

func putAll[T Entity](c *Collection[T]) func(context.Context, []T) error {
	return func(ctx context.Context, v []T) error { return c.Put(ctx, v...) }
}
