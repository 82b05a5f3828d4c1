package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/observer/hangouts/internal/domain"
)

// UserRepository interface for auth operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetPasswordHash(ctx context.Context, userID uuid.UUID) (string, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	TouchLastSeen(ctx context.Context, userID uuid.UUID) error

	CreateRefreshToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) (uuid.UUID, error)
	GetRefreshToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenID uuid.UUID) error
	RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error
}

// Service handles authentication logic
type Service struct {
	users  UserRepository
	tokens *TokenService
}

// NewService creates an auth service
func NewService(users UserRepository, tokens *TokenService) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
	}
}

// TokenPair holds both access and refresh tokens
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"-"` // goes to cookie
	ExpiresAt    time.Time `json:"expires_at"`
}

// RegisterInput for user registration
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=8,max=72,password"`
}

// LoginInput accepts either an email address or a username
type LoginInput struct {
	EmailOrUsername string `json:"emailorusername" validate:"required,max=254"`
	Password        string `json:"password" validate:"required,max=72"`
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, *TokenPair, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))

	if err := validate.Struct(input); err != nil {
		return nil, nil, newInputError(err)
	}

	exists, err := s.users.EmailExists(ctx, input.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, nil, domain.ErrEmailTaken
	}

	exists, err = s.users.UsernameExists(ctx, input.Username)
	if err != nil {
		return nil, nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, nil, domain.ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     input.Email,
		Username:  input.Username,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Create(ctx, user, string(hash)); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return user, tokens, nil
}

// Login authenticates a user by email or username
func (s *Service) Login(ctx context.Context, input LoginInput) (*domain.User, *TokenPair, error) {
	if err := validate.Struct(input); err != nil {
		return nil, nil, domain.ErrInvalidCredentials
	}

	ident := strings.ToLower(strings.TrimSpace(input.EmailOrUsername))
	var (
		user *domain.User
		err  error
	)
	if strings.Contains(ident, "@") {
		user, err = s.users.GetByEmail(ctx, ident)
	} else {
		user, err = s.users.GetByUsername(ctx, ident)
	}
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil, domain.ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("find user: %w", err)
	}

	hash, err := s.users.GetPasswordHash(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("get password: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(input.Password)); err != nil {
		return nil, nil, domain.ErrInvalidCredentials
	}

	if err := s.users.TouchLastSeen(ctx, user.ID); err != nil {
		return nil, nil, fmt.Errorf("touch last seen: %w", err)
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return user, tokens, nil
}

// Refresh generates new tokens using a refresh token
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.User, *TokenPair, error) {
	storedToken, err := s.users.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, nil, domain.ErrTokenInvalid
	}

	if !storedToken.IsValid() {
		if storedToken.RevokedAt != nil {
			return nil, nil, domain.ErrTokenRevoked
		}
		return nil, nil, domain.ErrTokenExpired
	}

	// Rotation: a refresh token is single-use
	if err := s.users.RevokeRefreshToken(ctx, storedToken.ID); err != nil {
		return nil, nil, fmt.Errorf("revoke old token: %w", err)
	}

	user, err := s.users.GetByID(ctx, storedToken.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("get user: %w", err)
	}

	tokens, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return user, tokens, nil
}

// Logout revokes a refresh token
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	storedToken, err := s.users.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		// Already invalid, consider it logged out
		return nil
	}
	return s.users.RevokeRefreshToken(ctx, storedToken.ID)
}

// LogoutAll revokes all refresh tokens for a user
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.users.RevokeAllUserTokens(ctx, userID)
}

// CurrentUser loads the account behind an access token
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// ValidateToken validates an access token and returns claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return s.tokens.ValidateAccessToken(tokenString)
}

// RefreshTokenTTL returns refresh token duration for cookie
func (s *Service) RefreshTokenTTL() time.Duration {
	return s.tokens.RefreshTokenTTL()
}

func (s *Service) generateTokenPair(ctx context.Context, user *domain.User) (*TokenPair, error) {
	accessToken, expiresAt, err := s.tokens.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshToken, refreshExpiresAt, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	if _, err = s.users.CreateRefreshToken(ctx, user.ID, refreshToken, refreshExpiresAt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// ============================================================================
// Validation
// ============================================================================

var usernameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{2,31}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	return v
}

func strongPassword(password string) bool {
	var hasUpper, hasLower, hasNumber bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsNumber(c):
			hasNumber = true
		}
	}
	return hasUpper && hasLower && hasNumber
}

// InputError describes the first invalid field of an auth request
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

var fieldMessages = map[string]string{
	"email":    "invalid email format",
	"username": "username must be 3-32 characters, start with a letter, contain only letters, numbers, underscore",
	"password": "password must be 8-72 characters and contain uppercase, lowercase, and number",
}

func newInputError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &InputError{Message: err.Error()}
	}
	field := strings.ToLower(verrs[0].Field())
	msg, ok := fieldMessages[field]
	if !ok {
		msg = "invalid " + field
	}
	return &InputError{Field: field, Message: msg}
}
