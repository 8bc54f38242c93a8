package chatsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerStore is a durable Store on BadgerDB. Keys are "<kind>/<key>".
type BadgerStore struct {
	db     *badger.DB
	hub    *watchHub
	closed atomic.Bool
}

// OpenBadgerStore opens or creates the store at dir. An empty dir opens an
// in-memory database, which is what the tests use.
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store %q: %w", dir, err)
	}
	return &BadgerStore{db: db, hub: newWatchHub(DefaultStreamBuffer)}, nil
}

func badgerKey(kind Kind, key string) []byte {
	return []byte(string(kind) + "/" + key)
}

func badgerPrefix(kind Kind) []byte {
	return []byte(string(kind) + "/")
}

func (s *BadgerStore) Upsert(_ context.Context, kind Kind, records ...Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			if err := txn.Set(badgerKey(kind, r.Key), r.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	s.hub.publish(kind, OpUpsert, keys)
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, kind Kind, keys ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var removed []string
	err := s.db.Update(func(txn *badger.Txn) error {
		removed = removed[:0]
		for _, k := range keys {
			bk := badgerKey(kind, k)
			if _, err := txn.Get(bk); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := txn.Delete(bk); err != nil {
				return err
			}
			removed = append(removed, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	s.hub.publish(kind, OpDelete, removed)
	return nil
}

func (s *BadgerStore) Get(_ context.Context, kind Kind, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(kind, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, key, err)
	}
	return value, nil
}

func (s *BadgerStore) List(_ context.Context, kind Kind) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	prefix := badgerPrefix(kind)
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Record{
				Key:   string(bytes.TrimPrefix(item.KeyCopy(nil), prefix)),
				Value: v,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return out, nil
}

func (s *BadgerStore) Watch(kind Kind) *Stream[ChangeEvent] { return s.hub.feed(kind) }

// Close flushes and closes the database. Calling it twice is a no-op.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.hub.close()
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }
