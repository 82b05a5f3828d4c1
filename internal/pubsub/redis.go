package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/observer/hangouts/internal/metrics"
)

const (
	receiveRetryDelay = time.Second

	// confirmTimeout bounds the wait for Redis to acknowledge a SUBSCRIBE
	// or UNSUBSCRIBE on the shared connection.
	confirmTimeout = 5 * time.Second
)

// Redis reply kinds acknowledging channel membership changes
const (
	kindSubscribe   = "subscribe"
	kindUnsubscribe = "unsubscribe"
)

type confirmKey struct {
	kind    string
	channel string
}

// RedisPubSub implements PubSub on Redis so that a peer message published on
// one instance reaches the target's connections on every instance.
//
// All local topics share one Redis subscriber connection. A channel is
// subscribed when its first local handler arrives and released with its last,
// so the PUBLISH reply counts instances holding at least one connection of
// the user: zero still means offline. Subscribe and unsubscribe return only
// after Redis has confirmed the change, so the count is accurate as soon as
// they return.
type RedisPubSub struct {
	client *redis.Client
	sub    *redis.PubSub
	reg    *registry

	// chanMu orders Redis SUBSCRIBE/UNSUBSCRIBE with the registry edges
	// that trigger them.
	chanMu sync.Mutex

	waitMu  sync.Mutex
	waiters map[confirmKey]chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

// NewRedisPubSub creates a new Redis-backed pub/sub instance.
// url should be in the format: redis://host:port or redis://:password@host:port
func NewRedisPubSub(ctx context.Context, url string) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger := slog.Default().With("component", "pubsub", "backend", "redis")
	ps := newRedisPubSub(client, logger)

	logger.Info("connected to Redis", "addr", opts.Addr)
	return ps, nil
}

func newRedisPubSub(client *redis.Client, logger *slog.Logger) *RedisPubSub {
	loopCtx, cancel := context.WithCancel(context.Background())
	ps := &RedisPubSub{
		client:  client,
		sub:     client.Subscribe(loopCtx),
		reg:     newRegistry(logger),
		waiters: make(map[confirmKey]chan struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
	}
	go ps.receive(loopCtx)
	return ps
}

// Publish sends msg to every instance subscribed to topic. The count is the
// Redis PUBLISH reply.
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, msg *Message) (int, error) {
	if ps.reg.isClosed() {
		return 0, ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	n, err := ps.client.Publish(ctx, topic, data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to redis: %w", err)
	}

	metrics.PubSubMessages.WithLabelValues(metrics.BackendRedis, metrics.DirectionPublished).Inc()
	ps.logger.Debug("published to topic", "topic", topic, "msg_type", msg.Type, "instances", n)
	return int(n), nil
}

// Subscribe registers handler locally, subscribing the Redis channel when
// this is the topic's first local handler. It returns once Redis has
// confirmed the subscription.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	ps.chanMu.Lock()
	defer ps.chanMu.Unlock()

	id, first, err := ps.reg.add(topic, handler)
	if err != nil {
		return nil, err
	}
	if first {
		if err := ps.changeChannel(ctx, kindSubscribe, topic); err != nil {
			ps.reg.remove(topic, id)
			// Leave Redis as we found it
			if uerr := ps.changeChannel(context.Background(), kindUnsubscribe, topic); uerr != nil {
				ps.logger.Warn("rollback unsubscribe failed", "topic", topic, "error", uerr)
			}
			return nil, fmt.Errorf("failed to subscribe to redis channel: %w", err)
		}
		ps.logger.Debug("subscribed to channel", "topic", topic)
	}

	return &subscription{remove: func() error {
		return ps.unsubscribe(topic, id)
	}}, nil
}

func (ps *RedisPubSub) unsubscribe(topic string, id uint64) error {
	ps.chanMu.Lock()
	defer ps.chanMu.Unlock()

	if !ps.reg.remove(topic, id) || ps.reg.isClosed() {
		return nil
	}
	// The subscriber connection outlives any request context.
	if err := ps.changeChannel(context.Background(), kindUnsubscribe, topic); err != nil {
		return fmt.Errorf("failed to unsubscribe redis channel: %w", err)
	}
	ps.logger.Debug("unsubscribed from channel", "topic", topic)
	return nil
}

// changeChannel sends SUBSCRIBE or UNSUBSCRIBE for channel and waits for the
// receive loop to see Redis' confirmation. Callers hold chanMu, so at most
// one change per channel is in flight.
func (ps *RedisPubSub) changeChannel(ctx context.Context, kind, channel string) error {
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	key := confirmKey{kind: kind, channel: channel}
	confirmed := make(chan struct{})
	ps.waitMu.Lock()
	ps.waiters[key] = confirmed
	ps.waitMu.Unlock()
	defer func() {
		ps.waitMu.Lock()
		if ps.waiters[key] == confirmed {
			delete(ps.waiters, key)
		}
		ps.waitMu.Unlock()
	}()

	var err error
	if kind == kindSubscribe {
		err = ps.sub.Subscribe(ctx, channel)
	} else {
		err = ps.sub.Unsubscribe(ctx, channel)
	}
	if err != nil {
		return err
	}

	select {
	case <-confirmed:
		return nil
	case <-ps.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s confirmation: %w", kind, ctx.Err())
	}
}

// confirm wakes the waiter for a subscribe/unsubscribe reply. Replies nobody
// waits for, such as resubscriptions after a reconnect, are ignored.
func (ps *RedisPubSub) confirm(kind, channel string) {
	key := confirmKey{kind: kind, channel: channel}
	ps.waitMu.Lock()
	defer ps.waitMu.Unlock()
	if ch, ok := ps.waiters[key]; ok {
		delete(ps.waiters, key)
		close(ch)
	}
}

// receive dispatches channel messages to the local handlers and membership
// confirmations to their waiters until Close
func (ps *RedisPubSub) receive(ctx context.Context) {
	defer close(ps.done)

	for {
		reply, err := ps.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			// go-redis reconnects and resubscribes on its own
			ps.logger.Warn("redis receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		switch m := reply.(type) {
		case *redis.Subscription:
			ps.confirm(m.Kind, m.Channel)
		case *redis.Message:
			ps.dispatch(ctx, m)
		}
	}
}

func (ps *RedisPubSub) dispatch(ctx context.Context, raw *redis.Message) {
	var msg Message
	if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
		metrics.PubSubMessages.WithLabelValues(metrics.BackendRedis, metrics.DirectionDropped).Inc()
		ps.logger.Error("failed to unmarshal message", "error", err, "topic", raw.Channel)
		return
	}

	metrics.PubSubMessages.WithLabelValues(metrics.BackendRedis, metrics.DirectionReceived).Inc()
	ps.reg.deliver(ctx, raw.Channel, &msg)
}

// Close stops the receive loop and closes the Redis client
func (ps *RedisPubSub) Close() error {
	ps.closeOnce.Do(func() { ps.closeErr = ps.shutdown() })
	return ps.closeErr
}

func (ps *RedisPubSub) shutdown() error {
	ps.chanMu.Lock()
	topics := ps.reg.close()
	ps.chanMu.Unlock()

	ps.cancel()
	subErr := ps.sub.Close()
	<-ps.done

	if err := ps.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	if subErr != nil && !errors.Is(subErr, redis.ErrClosed) {
		return fmt.Errorf("failed to close redis subscriber: %w", subErr)
	}

	ps.logger.Info("Redis pubsub closed", "released_topics", len(topics))
	return nil
}

// SubscriberCount returns the number of local subscribers for a topic.
// Subscribers on other instances are not counted.
func (ps *RedisPubSub) SubscriberCount(topic string) int {
	return ps.reg.count(topic)
}
