package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/observer/hangouts/internal/auth"
	"github.com/observer/hangouts/internal/domain"
	"github.com/observer/hangouts/internal/hangout"
	"github.com/observer/hangouts/internal/metrics"
	"github.com/observer/hangouts/internal/pubsub"
)

// commandTimeout bounds a single fetch or relay command
const commandTimeout = 10 * time.Second

// Relay is the hangout service as seen by the hub
type Relay interface {
	Dispatch(ctx context.Context, sender string, cmd hangout.Command) (*hangout.Result, error)
	List(ctx context.Context, username string) ([]domain.Hangout, error)
}

// Limiter throttles commands per user
type Limiter interface {
	Allow(key string) bool
}

// Hub maintains the set of active clients and routes their commands
type Hub struct {
	// Authenticated clients by username (one user can have multiple connections)
	clients map[string]map[*Client]bool

	// Every registered client, authenticated or not
	conns map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	// Dependencies
	tokens  auth.TokenValidator
	relay   Relay
	ps      pubsub.PubSub
	limiter Limiter
	logger  *slog.Logger
}

// NewHub creates a new Hub
func NewHub(tokens auth.TokenValidator, relay Relay, ps pubsub.PubSub, limiter Limiter, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		conns:      make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		tokens:     tokens,
		relay:      relay,
		ps:         ps,
		limiter:    limiter,
		logger:     logger,
	}
}

// Run starts the hub's main loop. When ctx ends every client is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	h.conns[client] = true
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.logger.Debug("client connected", "remote_addr", client.remoteAddr())
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	if !h.conns[client] {
		h.mu.Unlock()
		return
	}
	delete(h.conns, client)

	username := client.Username()
	if username != "" {
		if clients, ok := h.clients[username]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, username)
			}
		}
	}
	h.mu.Unlock()

	metrics.WSConnections.Dec()
	client.close()
	h.logger.Debug("client disconnected", "username", username)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.conns = make(map[*Client]bool)
	h.clients = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	goingAway := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		metrics.WSConnections.Dec()
		c.closeWith(goingAway)
	}
	h.logger.Info("hub stopped", "closed_clients", len(clients))
}

// HandleMessage processes incoming WebSocket messages
func (h *Hub) HandleMessage(ctx context.Context, client *Client, msg *Message) {
	if msg.Type == EventTypeAuth {
		h.handleAuth(ctx, client, msg.Payload)
		return
	}

	if !client.IsAuthenticated() {
		client.sendError("not_authenticated", "Must authenticate first")
		return
	}

	if msg.Type == EventTypeHangoutsFetch {
		h.sendHangouts(ctx, client)
		return
	}

	action, ok := commandEvents[msg.Type]
	if !ok {
		client.sendError("unknown_event", "Unknown event type: "+msg.Type)
		return
	}
	h.handleCommand(ctx, client, action, msg.Payload)
}

func (h *Hub) handleAuth(ctx context.Context, client *Client, payload json.RawMessage) {
	if client.IsAuthenticated() {
		client.sendError("already_authenticated", "Connection is already authenticated")
		return
	}

	var p AuthPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid auth payload")
		return
	}

	claims, err := h.tokens.ValidateToken(p.Token)
	if err != nil {
		client.sendError("auth_failed", "Invalid or expired token")
		return
	}

	// Peer messages for this user reach every connection through its topic
	sub, err := h.ps.Subscribe(ctx, pubsub.Topics.User(claims.Username), func(_ context.Context, m *pubsub.Message) {
		_ = client.Send(&Message{Type: m.Type, Payload: m.Payload, Timestamp: time.Now()})
	})
	if err != nil {
		h.logger.Error("subscribe user topic failed", "error", err, "username", claims.Username)
		client.sendError("internal_error", "Could not start session")
		return
	}
	if !client.setSubscription(sub) {
		_ = sub.Unsubscribe()
		return
	}

	client.SetUser(claims.UserID, claims.Username)

	h.mu.Lock()
	if h.clients[claims.Username] == nil {
		h.clients[claims.Username] = make(map[*Client]bool)
	}
	h.clients[claims.Username][client] = true
	h.mu.Unlock()

	msg, _ := NewMessage(EventTypeAuthSuccess, AuthSuccessPayload{
		UserID:   claims.UserID,
		Username: claims.Username,
	})
	_ = client.Send(msg)

	h.logger.Info("client authenticated", "user_id", claims.UserID, "username", claims.Username)

	h.sendHangouts(ctx, client)
}

func (h *Hub) sendHangouts(ctx context.Context, client *Client) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	list, err := h.relay.List(ctx, client.Username())
	if err != nil {
		h.logger.Error("list hangouts failed", "error", err, "username", client.Username())
		client.sendError("internal_error", "Could not load hangouts")
		return
	}

	msg, _ := NewMessage(EventTypeHangouts, HangoutsPayload{Hangouts: list})
	_ = client.Send(msg)
}

func (h *Hub) handleCommand(ctx context.Context, client *Client, action domain.HangoutAction, payload json.RawMessage) {
	var p HangoutCommandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid hangout payload")
		return
	}

	username := client.Username()
	if !h.limiter.Allow(username) {
		client.sendError("rate_limited", "Too many requests, slow down")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	res, err := h.relay.Dispatch(ctx, username, hangout.Command{
		Action:  action,
		Target:  p.Target,
		Message: p.Message,
	})
	if err != nil {
		code, message := errorCode(err)
		if code == "internal_error" {
			h.logger.Error("hangout command failed", "error", err, "action", action, "username", username)
		}
		client.sendError(code, message)
		return
	}

	msg, _ := NewMessage(EventTypeHangoutAck, AckPayload{
		State:     res.Hangout.State,
		Hangout:   res.Hangout,
		Delivered: res.Delivered,
	})
	_ = client.Send(msg)
}

// errorCode maps relay errors to WS error codes
func errorCode(err error) (string, string) {
	var verr *hangout.ValidationError
	switch {
	case errors.As(err, &verr):
		return "invalid_payload", verr.Error()
	case errors.Is(err, domain.ErrInvalidAction):
		return "invalid_action", domain.ErrInvalidAction.Error()
	case errors.Is(err, domain.ErrSelfHangout):
		return "self_hangout", domain.ErrSelfHangout.Error()
	case errors.Is(err, domain.ErrEmptyMessage):
		return "empty_message", domain.ErrEmptyMessage.Error()
	case errors.Is(err, domain.ErrUserNotFound):
		return "user_not_found", "No such user"
	case errors.Is(err, domain.ErrBlocked):
		return "blocked", domain.ErrBlocked.Error()
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition", domain.ErrInvalidTransition.Error()
	default:
		return "internal_error", "Something went wrong"
	}
}

// IsUserOnline checks if a user has any active connections on this instance
func (h *Hub) IsUserOnline(username string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[username]) > 0
}

// ConnectionCount returns the number of registered connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
