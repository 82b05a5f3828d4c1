package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/observer/hangouts/internal/hangout"
	"github.com/observer/hangouts/internal/pubsub"
)

// PubSubNotifier delivers peer messages through the user's pubsub topic.
// With Redis this reaches connections on every instance.
type PubSubNotifier struct {
	ps pubsub.PubSub
}

// NewPubSubNotifier creates a notifier on top of ps
func NewPubSubNotifier(ps pubsub.PubSub) *PubSubNotifier {
	return &PubSubNotifier{ps: ps}
}

// Notify publishes a hangout.peer event to username. It reports whether any
// connection was subscribed.
func (n *PubSubNotifier) Notify(ctx context.Context, username string, event hangout.Event) (bool, error) {
	payload, err := json.Marshal(PeerPayload{State: event.State, Hangout: event.Hangout})
	if err != nil {
		return false, fmt.Errorf("marshal peer payload: %w", err)
	}

	topic := pubsub.Topics.User(username)
	count, err := n.ps.Publish(ctx, topic, &pubsub.Message{
		Topic:   topic,
		Type:    EventTypeHangoutPeer,
		Payload: payload,
	})
	if err != nil {
		return false, fmt.Errorf("publish to %s: %w", topic, err)
	}
	return count > 0, nil
}
