// Package pubsub provides an interface-driven pub/sub system for realtime messaging.
// A single instance runs on the in-memory implementation; Redis fans events
// out across instances.
package pubsub

import (
	"context"
	"encoding/json"
)

// Message represents a pub/sub message with typed payload
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is a callback for processing messages. Handlers run on the
// delivering goroutine, in publish order, and must not block.
type Handler func(ctx context.Context, msg *Message)

// Subscription represents an active subscription that can be closed
type Subscription interface {
	// Unsubscribe removes the subscription
	Unsubscribe() error
}

// PubSub defines the interface for publish/subscribe operations.
// All implementations must be safe for concurrent use.
type PubSub interface {
	// Publish sends a message to all subscribers of the given topic and
	// returns how many subscribers it reached. Zero means nobody is
	// listening, which for a user topic means the user is offline.
	Publish(ctx context.Context, topic string, msg *Message) (int, error)

	// Subscribe registers a handler for messages on the given topic.
	// The handler is called for each message published to the topic.
	// Returns a Subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close shuts down the pub/sub system and releases resources.
	Close() error
}

// TopicBuilder helps construct consistent topic names
type TopicBuilder struct{}

// User returns the topic for events addressed to one user's connections
func (t TopicBuilder) User(username string) string {
	return "user:" + username
}

// Topics is a helper for building topic names
var Topics = TopicBuilder{}
