package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Auth errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")

	// Hangout errors
	ErrHangoutNotFound   = errors.New("hangout not found")
	ErrSelfHangout       = errors.New("cannot start a hangout with yourself")
	ErrInvalidAction     = errors.New("unknown hangout action")
	ErrInvalidTransition = errors.New("action not allowed in current hangout state")
	ErrBlocked           = errors.New("hangout is blocked")
	ErrEmptyMessage      = errors.New("message cannot be empty")
)
