package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/observer/hangouts/internal/auth"
	"github.com/observer/hangouts/internal/domain"
)

const refreshCookie = "refresh_token"

// Authenticator is the slice of auth.Service the handlers use
type Authenticator interface {
	Register(ctx context.Context, input auth.RegisterInput) (*domain.User, *auth.TokenPair, error)
	Login(ctx context.Context, input auth.LoginInput) (*domain.User, *auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.User, *auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) error
	CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	RefreshTokenTTL() time.Duration
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth         Authenticator
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an auth handler. secureCookie should be false only
// for local development over plain HTTP.
func NewAuthHandler(authService Authenticator, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:         authService,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type sessionResponse struct {
	User        domain.PublicUser `json:"user"`
	AccessToken string            `json:"access_token"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func newSession(user *domain.User, tokens *auth.TokenPair) sessionResponse {
	return sessionResponse{
		User:        user.ToPublic(),
		AccessToken: tokens.AccessToken,
		ExpiresAt:   tokens.ExpiresAt,
	}
}

// Register godoc
//
//	@Summary		Register a new user
//	@Description	Create a new user account with username, email, and password
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		auth.RegisterInput	true	"Registration details"
//	@Success		201		{object}	sessionResponse
//	@Failure		400		{object}	map[string]string	"Invalid input"
//	@Failure		409		{object}	map[string]string	"Username or email already exists"
//	@Router			/auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input auth.RegisterInput
	if err := decodeJSON(w, r, &input, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, tokens, err := h.auth.Register(r.Context(), input)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.setRefreshTokenCookie(w, tokens.RefreshToken)
	writeJSON(w, http.StatusCreated, newSession(user, tokens))
}

// Login godoc
//
//	@Summary		Login
//	@Description	Authenticate user with email or username and password
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		auth.LoginInput	true	"Login credentials"
//	@Success		200		{object}	sessionResponse
//	@Failure		400		{object}	map[string]string	"Invalid input"
//	@Failure		401		{object}	map[string]string	"Invalid credentials"
//	@Router			/auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input auth.LoginInput
	if err := decodeJSON(w, r, &input, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, tokens, err := h.auth.Login(r.Context(), input)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.setRefreshTokenCookie(w, tokens.RefreshToken)
	writeJSON(w, http.StatusOK, newSession(user, tokens))
}

// Refresh godoc
//
//	@Summary		Refresh token
//	@Description	Get a new access token using refresh token from cookie
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	sessionResponse
//	@Failure		401	{object}	map[string]string
//	@Router			/auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	user, tokens, err := h.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.setRefreshTokenCookie(w, tokens.RefreshToken)
	writeJSON(w, http.StatusOK, newSession(user, tokens))
}

// Logout godoc
//
//	@Summary		Logout
//	@Description	Invalidate refresh token and clear cookies
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookie); err == nil {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout failed", "error", err)
		}
	}

	h.clearRefreshTokenCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// LogoutAll godoc
//
//	@Summary		Log out everywhere
//	@Description	Revoke every refresh token of the authenticated user
//	@Tags			auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]string
//	@Failure		401	{object}	map[string]string
//	@Router			/auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.auth.LogoutAll(r.Context(), userID); err != nil {
		h.logger.Error("logout all failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	h.clearRefreshTokenCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out everywhere"})
}

func (h *AuthHandler) clearRefreshTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// Me godoc
//
//	@Summary		Get authenticated user
//	@Description	Get the currently authenticated user, including email
//	@Tags			auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	domain.User
//	@Failure		401	{object}	map[string]string
//	@Router			/auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.auth.CurrentUser(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	if err != nil {
		h.logger.Error("load current user failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) setRefreshTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(h.auth.RefreshTokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) handleAuthError(w http.ResponseWriter, err error) {
	var inErr *auth.InputError
	switch {
	case errors.As(err, &inErr):
		writeError(w, http.StatusBadRequest, inErr.Message)
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email, username or password")
	case errors.Is(err, domain.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, domain.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username already taken")
	case errors.Is(err, domain.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, domain.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, domain.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "token revoked")
	default:
		h.logger.Error("auth error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
