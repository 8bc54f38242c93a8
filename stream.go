package chatsync

import (
	"context"
	"sync"
)

// DefaultStreamBuffer is the per-subscriber buffer of a Stream.
const DefaultStreamBuffer = 64

// Stream is a named multicast feed. Every subscriber gets its own bounded
// buffer; a value that does not fit in a subscriber's buffer is dropped for
// that subscriber only. Delivery is best-effort by intent: streams carry live
// UI state, not a durable log.
//
// A Stream lives as long as its owner. Subscriptions survive reconnects of
// the connection that feeds the stream.
type Stream[T any] struct {
	name   string
	buffer int
	onDrop func(stream string)

	mu     sync.RWMutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

// NewStream creates a stream whose subscribers buffer up to buffer values.
func NewStream[T any](name string, buffer int) *Stream[T] {
	return newStream[T](name, buffer, nil)
}

func newStream[T any](name string, buffer int, onDrop func(string)) *Stream[T] {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Stream[T]{
		name:   name,
		buffer: buffer,
		onDrop: onDrop,
		subs:   make(map[uint64]chan T),
	}
}

// Name returns the stream's name.
func (s *Stream[T]) Name() string { return s.name }

// Subscribe registers a subscriber. The returned channel is closed when
// cancel is called, when ctx is done, or when the stream is closed.
func (s *Stream[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	ch := make(chan T, s.buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	stop := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(stop)
			s.remove(id)
		})
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-stop:
			}
		}()
	}
	return ch, cancel
}

func (s *Stream[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Publish offers v to every subscriber without blocking and reports how many
// received it.
func (s *Stream[T]) Publish(v T) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for _, ch := range s.subs {
		select {
		case ch <- v:
			delivered++
		default:
			if s.onDrop != nil {
				s.onDrop(s.name)
			}
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions.
func (s *Stream[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close ends every subscription. Later subscribers get a closed channel.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
