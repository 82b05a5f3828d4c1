package pubsub

import (
	"context"
	"log/slog"

	"github.com/observer/hangouts/internal/metrics"
)

// MemoryPubSub implements PubSub inside one process. The subscriber count
// of a user topic is exactly that user's number of live connections.
type MemoryPubSub struct {
	reg    *registry
	logger *slog.Logger
}

// NewMemoryPubSub creates a new in-memory pub/sub instance
func NewMemoryPubSub() *MemoryPubSub {
	logger := slog.Default().With("component", "pubsub", "backend", "memory")
	return &MemoryPubSub{
		reg:    newRegistry(logger),
		logger: logger,
	}
}

// Publish delivers msg to every subscriber of topic before returning.
// Handlers get a context detached from the publisher's cancellation.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, msg *Message) (int, error) {
	if ps.reg.isClosed() {
		return 0, ErrClosed
	}

	n := ps.reg.deliver(context.WithoutCancel(ctx), topic, msg)
	metrics.PubSubMessages.WithLabelValues(metrics.BackendMemory, metrics.DirectionPublished).Inc()
	ps.logger.Debug("published to topic", "topic", topic, "msg_type", msg.Type, "subscribers", n)
	return n, nil
}

// Subscribe registers a handler for the given topic
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	id, _, err := ps.reg.add(topic, handler)
	if err != nil {
		return nil, err
	}
	return &subscription{remove: func() error {
		ps.reg.remove(topic, id)
		return nil
	}}, nil
}

// Close drops every subscription and rejects further operations
func (ps *MemoryPubSub) Close() error {
	ps.reg.close()
	return nil
}

// SubscriberCount returns the number of subscribers for a topic
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	return ps.reg.count(topic)
}

// TopicCount returns the number of topics with at least one subscriber
func (ps *MemoryPubSub) TopicCount() int {
	return ps.reg.topicCount()
}
