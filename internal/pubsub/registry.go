package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// registry is the local topic table shared by both backends. Handlers are
// invoked synchronously in publish order, so a topic's subscribers see its
// messages in the order they were published. Handlers must not block.
type registry struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]Handler
	nextID uint64
	closed bool
	logger *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		topics: make(map[string]map[uint64]Handler),
		logger: logger,
	}
}

// add registers h on topic. first reports whether topic had no local
// subscribers before this call.
func (r *registry) add(topic string, h Handler) (id uint64, first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, false, ErrClosed
	}

	subs := r.topics[topic]
	if subs == nil {
		subs = make(map[uint64]Handler)
		r.topics[topic] = subs
	}
	r.nextID++
	subs[r.nextID] = h
	return r.nextID, len(subs) == 1, nil
}

// remove drops a handler. last reports whether topic has no local
// subscribers left. Removing an unknown id is a no-op.
func (r *registry) remove(topic string, id uint64) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, topic)
		return true
	}
	return false
}

// deliver runs every local handler of topic and returns how many ran.
func (r *registry) deliver(ctx context.Context, topic string, msg *Message) int {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.topics[topic]))
	for _, h := range r.topics[topic] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		r.safeCall(ctx, topic, h, msg)
	}
	return len(handlers)
}

func (r *registry) safeCall(ctx context.Context, topic string, h Handler, msg *Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pubsub handler panic", "topic", topic, "msg_type", msg.Type, "panic", rec)
		}
	}()
	h(ctx, msg)
}

// close marks the registry closed and returns the topics it held.
func (r *registry) close() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	r.topics = make(map[string]map[uint64]Handler)
	return topics
}

func (r *registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *registry) count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

func (r *registry) topicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// subscription is the Subscription handed out by both backends.
type subscription struct {
	once   sync.Once
	remove func() error
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.remove() })
	return err
}
