package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/observer/hangouts/internal/auth"
	"github.com/observer/hangouts/internal/domain"
	"github.com/observer/hangouts/internal/hangout"
)

// Relay is the hangout service as seen by the REST API
type Relay interface {
	Dispatch(ctx context.Context, sender string, cmd hangout.Command) (*hangout.Result, error)
	List(ctx context.Context, username string) ([]domain.Hangout, error)
	Get(ctx context.Context, owner, peer string) (*domain.Hangout, error)
}

// HangoutHandler exposes the relay over HTTP for clients without a socket
type HangoutHandler struct {
	relay  Relay
	logger *slog.Logger
}

func NewHangoutHandler(relay Relay, logger *slog.Logger) *HangoutHandler {
	return &HangoutHandler{
		relay:  relay,
		logger: logger,
	}
}

type actionRequest struct {
	Message string `json:"message"`
}

// actionResponse mirrors the hangout.ack WebSocket payload
type actionResponse struct {
	State     domain.HangoutState `json:"state"`
	Hangout   domain.Hangout      `json:"hangout"`
	Delivered bool                `json:"delivered"`
}

// List godoc
//
//	@Summary		List hangouts
//	@Description	Every hangout record owned by the authenticated user
//	@Tags			hangouts
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	object{hangouts=[]domain.Hangout}
//	@Router			/hangouts [get]
func (h *HangoutHandler) List(w http.ResponseWriter, r *http.Request) {
	username, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	list, err := h.relay.List(r.Context(), username)
	if err != nil {
		h.logger.Error("list hangouts failed", "error", err, "username", username)
		writeError(w, http.StatusInternalServerError, "failed to load hangouts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"hangouts": list})
}

// Get godoc
//
//	@Summary		Get one hangout
//	@Tags			hangouts
//	@Produce		json
//	@Security		BearerAuth
//	@Param			username	path		string	true	"Other party"
//	@Success		200			{object}	domain.Hangout
//	@Failure		404			{object}	map[string]string
//	@Router			/hangouts/{username} [get]
func (h *HangoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	username, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rec, err := h.relay.Get(r.Context(), username, r.PathValue("username"))
	if err != nil {
		h.handleRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Action godoc
//
//	@Summary		Act on a hangout
//	@Description	invite, accept, decline, block, unblock or message another user
//	@Tags			hangouts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			username	path		string			true	"Target user"
//	@Param			action		path		string			true	"invite|accept|decline|block|unblock|message"
//	@Param			request		body		actionRequest	false	"Optional message"
//	@Success		200			{object}	actionResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		403			{object}	map[string]string	"Blocked"
//	@Failure		409			{object}	map[string]string	"Not allowed in current state"
//	@Router			/hangouts/{username}/{action} [post]
func (h *HangoutHandler) Action(w http.ResponseWriter, r *http.Request) {
	username, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	action, err := domain.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req actionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.relay.Dispatch(r.Context(), username, hangout.Command{
		Action:  action,
		Target:  r.PathValue("username"),
		Message: req.Message,
	})
	if err != nil {
		h.handleRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{
		State:     res.Hangout.State,
		Hangout:   res.Hangout,
		Delivered: res.Delivered,
	})
}

func (h *HangoutHandler) handleRelayError(w http.ResponseWriter, err error) {
	var verr *hangout.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrSelfHangout),
		errors.Is(err, domain.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, domain.ErrHangoutNotFound):
		writeError(w, http.StatusNotFound, "hangout not found")
	case errors.Is(err, domain.ErrBlocked):
		writeError(w, http.StatusForbidden, domain.ErrBlocked.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, domain.ErrInvalidTransition.Error())
	default:
		h.logger.Error("hangout request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rootMessage drops wrapping context so internal call names stay private
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
