package hangout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/observer/hangouts/internal/domain"
	"github.com/observer/hangouts/internal/metrics"
	"github.com/observer/hangouts/internal/store"
)

// MaxMessageLength caps the text carried by a single command.
const MaxMessageLength = 10000

var validate = validator.New()

// UserDirectory resolves usernames to registered users
type UserDirectory interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Event is what the target of an action receives: its updated record about
// the sender, with State doubling as the peer message type.
type Event struct {
	State   domain.HangoutState `json:"state"`
	Hangout domain.Hangout      `json:"hangout"`
}

// Notifier pushes events to a user's live connections.
// It reports whether at least one connection received the event.
type Notifier interface {
	Notify(ctx context.Context, username string, event Event) (bool, error)
}

// Command is a single relay request from the sender
type Command struct {
	Action  domain.HangoutAction `json:"action" validate:"required"`
	Target  string               `json:"target" validate:"required,max=64"`
	Message string               `json:"message,omitempty" validate:"max=10000"`
}

// Result acknowledges a command to its sender
type Result struct {
	Hangout   domain.Hangout `json:"hangout"`
	Delivered bool           `json:"delivered"`
}

// Service runs the relay
type Service struct {
	store    store.HangoutStore
	users    UserDirectory
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	pairs    pairLocks
}

// NewService creates a relay service
func NewService(hangouts store.HangoutStore, users UserDirectory, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    hangouts,
		users:    users,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch applies cmd on behalf of sender, persists both sides of the
// hangout and notifies the target if it is online.
func (s *Service) Dispatch(ctx context.Context, sender string, cmd Command) (*Result, error) {
	start := time.Now()
	res, err := s.dispatch(ctx, sender, cmd)

	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case isRejection(err):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
	}
	metrics.HangoutActions.WithLabelValues(string(cmd.Action), outcome).Inc()
	metrics.ActionDuration.WithLabelValues(string(cmd.Action)).Observe(time.Since(start).Seconds())

	return res, err
}

func (s *Service) dispatch(ctx context.Context, sender string, cmd Command) (*Result, error) {
	cmd.Target = strings.ToLower(strings.TrimSpace(cmd.Target))
	sender = strings.ToLower(sender)

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.Target == sender {
		return nil, domain.ErrSelfHangout
	}

	senderUser, err := s.users.GetByUsername(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("lookup sender: %w", err)
	}
	targetUser, err := s.users.GetByUsername(ctx, cmd.Target)
	if err != nil {
		return nil, fmt.Errorf("lookup target: %w", err)
	}

	// Held through both upserts so the two records stay mirrored
	unlock := s.pairs.lock(sender, cmd.Target)
	defer unlock()

	senderRec, err := s.load(ctx, sender, cmd.Target)
	if err != nil {
		return nil, err
	}
	targetRec, err := s.load(ctx, cmd.Target, sender)
	if err != nil {
		return nil, err
	}

	senderNext, targetNext, err := Transition(cmd.Action, stateOf(senderRec), stateOf(targetRec))
	if err != nil {
		return nil, err
	}

	now := s.now()
	var msg *domain.HangoutMessage
	if cmd.Message != "" {
		msg = &domain.HangoutMessage{Text: cmd.Message, Timestamp: now}
	}

	senderUpdated := domain.Hangout{
		Username:  targetUser.Username,
		Email:     targetUser.Email,
		State:     senderNext,
		Message:   pickMessage(msg, senderRec),
		Timestamp: now,
	}
	targetUpdated := domain.Hangout{
		Username:  senderUser.Username,
		Email:     senderUser.Email,
		State:     targetNext,
		Message:   pickMessage(msg, targetRec),
		Timestamp: now,
	}

	if err := s.store.Upsert(ctx, sender, senderUpdated); err != nil {
		return nil, fmt.Errorf("save sender hangout: %w", err)
	}
	if err := s.store.Upsert(ctx, cmd.Target, targetUpdated); err != nil {
		return nil, fmt.Errorf("save target hangout: %w", err)
	}

	delivered, err := s.notifier.Notify(ctx, cmd.Target, Event{State: targetNext, Hangout: targetUpdated})
	switch {
	case err != nil:
		// The record is stored; the target sees it on its next fetch.
		s.logger.Warn("peer notification failed", "error", err, "target", cmd.Target, "state", targetNext)
		metrics.PeerDeliveries.WithLabelValues(metrics.DeliveryError).Inc()
	case delivered:
		metrics.PeerDeliveries.WithLabelValues(metrics.DeliveryOnline).Inc()
	default:
		metrics.PeerDeliveries.WithLabelValues(metrics.DeliveryOffline).Inc()
	}

	s.logger.Info("hangout action",
		"action", cmd.Action,
		"sender", sender,
		"target", cmd.Target,
		"sender_state", senderNext,
		"target_state", targetNext,
		"delivered", delivered,
	)

	return &Result{Hangout: senderUpdated, Delivered: delivered}, nil
}

// List returns every hangout owned by username
func (s *Service) List(ctx context.Context, username string) ([]domain.Hangout, error) {
	hangouts, err := s.store.List(ctx, strings.ToLower(username))
	if err != nil {
		return nil, fmt.Errorf("list hangouts: %w", err)
	}
	return hangouts, nil
}

// Get returns owner's record about peer
func (s *Service) Get(ctx context.Context, owner, peer string) (*domain.Hangout, error) {
	h, err := s.store.Get(ctx, strings.ToLower(owner), strings.ToLower(peer))
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrHangoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hangout: %w", err)
	}
	return h, nil
}

func (s *Service) load(ctx context.Context, owner, peer string) (*domain.Hangout, error) {
	h, err := s.store.Get(ctx, owner, peer)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load hangout %s/%s: %w", owner, peer, err)
	}
	return h, nil
}

func validateCommand(cmd Command) error {
	if !cmd.Action.Valid() {
		return domain.ErrInvalidAction
	}
	if cmd.Action == domain.ActionMessage && strings.TrimSpace(cmd.Message) == "" {
		return domain.ErrEmptyMessage
	}
	if err := validate.Struct(cmd); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// ValidationError wraps field validation failures of a Command
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	var verrs validator.ValidationErrors
	if errors.As(e.Err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("invalid %s: failed %q", strings.ToLower(fe.Field()), fe.Tag())
	}
	return "invalid command: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func isRejection(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, domain.ErrInvalidAction) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrBlocked) ||
		errors.Is(err, domain.ErrSelfHangout) ||
		errors.Is(err, domain.ErrEmptyMessage) ||
		errors.Is(err, domain.ErrUserNotFound)
}

func stateOf(h *domain.Hangout) domain.HangoutState {
	if h == nil {
		return ""
	}
	return h.State
}

func pickMessage(msg *domain.HangoutMessage, prev *domain.Hangout) *domain.HangoutMessage {
	if msg != nil {
		return msg
	}
	if prev != nil {
		return prev.Message
	}
	return nil
}
