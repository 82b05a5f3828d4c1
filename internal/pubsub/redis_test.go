package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisPubSub_InvalidURL(t *testing.T) {
	_, err := NewRedisPubSub(context.Background(), "not-a-url://")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisPubSub_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Port 1 is reserved and refuses connections
	_, err := NewRedisPubSub(ctx, "redis://127.0.0.1:1/0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func newTestRedisPubSub(t *testing.T, mr *miniredis.Miniredis) *RedisPubSub {
	t.Helper()
	ps, err := NewRedisPubSub(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func collect(ch chan *Message) Handler {
	return func(ctx context.Context, msg *Message) { ch <- msg }
}

func receiveWithin(t *testing.T, ch chan *Message, d time.Duration) *Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(d):
		t.Fatal("message not delivered")
		return nil
	}
}

func TestRedisPubSub_CountIsAccurateRightAfterSubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newTestRedisPubSub(t, mr)
	b := newTestRedisPubSub(t, mr)

	topic := Topics.User("bob")
	first := make(chan *Message, 4)
	second := make(chan *Message, 4)

	sub1, err := a.Subscribe(ctx, topic, collect(first))
	require.NoError(t, err)
	sub2, err := a.Subscribe(ctx, topic, collect(second))
	require.NoError(t, err)
	assert.Equal(t, 2, a.SubscriberCount(topic))

	// Published from the other instance with no pause after subscribing
	n, err := b.Publish(ctx, topic, &Message{Topic: topic, Type: "hangout.peer"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one instance holds bob's connections")
	assert.Equal(t, "hangout.peer", receiveWithin(t, first, 2*time.Second).Type)
	assert.Equal(t, "hangout.peer", receiveWithin(t, second, 2*time.Second).Type)

	require.NoError(t, sub1.Unsubscribe())
	n, err = b.Publish(ctx, topic, &Message{Topic: topic, Type: "still.online"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a remaining local handler keeps the channel")
	assert.Equal(t, "still.online", receiveWithin(t, second, 2*time.Second).Type)

	require.NoError(t, sub2.Unsubscribe())
	n, err = b.Publish(ctx, topic, &Message{Topic: topic, Type: "offline"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "last unsubscribe releases the channel")
	assert.Equal(t, 0, a.SubscriberCount(topic))
}

func TestRedisPubSub_CountsInstancesNotConnections(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newTestRedisPubSub(t, mr)
	b := newTestRedisPubSub(t, mr)

	topic := Topics.User("alice")
	onA := make(chan *Message, 3)
	onB := make(chan *Message, 1)
	for i := 0; i < 3; i++ {
		_, err := a.Subscribe(ctx, topic, collect(onA))
		require.NoError(t, err)
	}
	_, err := b.Subscribe(ctx, topic, collect(onB))
	require.NoError(t, err)

	n, err := a.Publish(ctx, topic, &Message{Topic: topic, Type: "hangout.peer"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	receiveWithin(t, onB, 2*time.Second)
}

func TestRedisPubSub_TopicIsolation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newTestRedisPubSub(t, mr)
	b := newTestRedisPubSub(t, mr)

	bobs := make(chan *Message, 1)
	_, err := a.Subscribe(ctx, Topics.User("bob"), collect(bobs))
	require.NoError(t, err)

	n, err := b.Publish(ctx, Topics.User("carol"), &Message{Type: "hangout.peer"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	select {
	case msg := <-bobs:
		t.Fatalf("bob received carol's message %q", msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisPubSub_Close(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	ps := newTestRedisPubSub(t, mr)

	sub, err := ps.Subscribe(ctx, Topics.User("bob"), func(context.Context, *Message) {})
	require.NoError(t, err)

	require.NoError(t, ps.Close())
	require.NoError(t, ps.Close())
	assert.NoError(t, sub.Unsubscribe(), "unsubscribe after close is a no-op")

	_, err = ps.Publish(ctx, Topics.User("bob"), &Message{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ps.Subscribe(ctx, Topics.User("bob"), func(context.Context, *Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}
