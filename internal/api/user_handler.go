package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/observer/hangouts/internal/domain"
)

// UserFinder looks up registered users
type UserFinder interface {
	SearchByUsername(ctx context.Context, query string, limit int) ([]domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// UserHandler handles user-related endpoints
type UserHandler struct {
	users  UserFinder
	logger *slog.Logger
}

func NewUserHandler(users UserFinder, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// Search handles GET /users/search?q=...
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if len(query) < 2 {
		writeError(w, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			limit = l
		}
	}

	users, err := h.users.SearchByUsername(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("search users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to search users")
		return
	}

	// Emails stay private until a hangout is established
	publicUsers := make([]domain.PublicUser, len(users))
	for i := range users {
		publicUsers[i] = users[i].ToPublic()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": publicUsers,
		"count": len(publicUsers),
	})
}

// GetByUsername handles GET /users/{username}
func (h *UserHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(r.PathValue("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}

	user, err := h.users.GetByUsername(r.Context(), username)
	if errors.Is(err, domain.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("get user failed", "error", err, "username", username)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user.ToPublic())
}
