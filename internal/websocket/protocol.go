package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/observer/hangouts/internal/domain"
)

// Event types for client -> server
const (
	EventTypeAuth           = "auth"
	EventTypeHangoutsFetch  = "hangouts.fetch"
	EventTypeHangoutInvite  = "hangout.invite"
	EventTypeHangoutAccept  = "hangout.accept"
	EventTypeHangoutDecline = "hangout.decline"
	EventTypeHangoutBlock   = "hangout.block"
	EventTypeHangoutUnblock = "hangout.unblock"
	EventTypeHangoutMessage = "hangout.message"
)

// Event types for server -> client
const (
	EventTypeError       = "error"
	EventTypeAuthSuccess = "auth.success"
	EventTypeHangouts    = "hangouts"
	EventTypeHangoutAck  = "hangout.ack"
	EventTypeHangoutPeer = "hangout.peer"
)

// commandEvents maps client command events to relay actions
var commandEvents = map[string]domain.HangoutAction{
	EventTypeHangoutInvite:  domain.ActionInvite,
	EventTypeHangoutAccept:  domain.ActionAccept,
	EventTypeHangoutDecline: domain.ActionDecline,
	EventTypeHangoutBlock:   domain.ActionBlock,
	EventTypeHangoutUnblock: domain.ActionUnblock,
	EventTypeHangoutMessage: domain.ActionMessage,
}

// Message is the base WebSocket message envelope
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp
func NewMessage(eventType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// AuthPayload for authenticating the WebSocket connection
type AuthPayload struct {
	Token string `json:"token"` // JWT access token
}

// HangoutCommandPayload is shared by all hangout.* commands
type HangoutCommandPayload struct {
	Target  string `json:"target"`
	Message string `json:"message,omitempty"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthSuccessPayload confirms successful authentication
type AuthSuccessPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}

// HangoutsPayload carries the full list of the user's hangouts
type HangoutsPayload struct {
	Hangouts []domain.Hangout `json:"hangouts"`
}

// AckPayload acknowledges a command to its sender. State is the sender's
// new state and Delivered tells whether the target was online.
type AckPayload struct {
	State     domain.HangoutState `json:"state"`
	Hangout   domain.Hangout      `json:"hangout"`
	Delivered bool                `json:"delivered"`
}

// PeerPayload is pushed to the target of a command
type PeerPayload struct {
	State   domain.HangoutState `json:"state"`
	Hangout domain.Hangout      `json:"hangout"`
}
