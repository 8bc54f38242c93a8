package chatsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_Multicast(t *testing.T) {
	s := NewStream[int]("numbers", 4)
	a, cancelA := s.Subscribe(context.Background())
	defer cancelA()
	b, cancelB := s.Subscribe(context.Background())
	defer cancelB()

	assert.Equal(t, 2, s.Publish(7))
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-b)
	assert.Equal(t, "numbers", s.Name())
}

func TestStream_DropsWhenSubscriberFull(t *testing.T) {
	drops := 0
	s := newStream[int]("slow", 2, func(name string) {
		assert.Equal(t, "slow", name)
		drops++
	})
	slow, cancelSlow := s.Subscribe(context.Background())
	defer cancelSlow()

	for i := 0; i < 5; i++ {
		s.Publish(i)
	}
	assert.Equal(t, 3, drops)
	assert.Equal(t, 0, <-slow)
	assert.Equal(t, 1, <-slow)
	assert.Len(t, slow, 0)

	// A fresh subscriber is unaffected by the slow one.
	fast, cancelFast := s.Subscribe(context.Background())
	defer cancelFast()
	assert.Equal(t, 2, s.Publish(9))
	assert.Equal(t, 9, <-fast)
}

func TestStream_CancelClosesChannel(t *testing.T) {
	s := NewStream[string]("names", 1)
	ch, cancel := s.Subscribe(context.Background())
	require.Equal(t, 1, s.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, s.Subscribers())
	assert.Zero(t, s.Publish("ignored"))
}

func TestStream_ContextEndsSubscription(t *testing.T) {
	s := NewStream[string]("names", 1)
	ctx, cancel := context.WithCancel(context.Background())
	ch, stop := s.Subscribe(ctx)
	defer stop()

	cancel()
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, waitFor, tick)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestStream_Close(t *testing.T) {
	s := NewStream[int]("numbers", 1)
	ch, cancel := s.Subscribe(context.Background())

	s.Close()
	s.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, cancel)

	late, _ := s.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed stream yields a closed channel")
	assert.Zero(t, s.Publish(1))
}
