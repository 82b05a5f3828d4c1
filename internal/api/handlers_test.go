package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/hangouts/internal/auth"
	"github.com/observer/hangouts/internal/domain"
	"github.com/observer/hangouts/internal/hangout"
	"github.com/observer/hangouts/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// =============================================================================
// Fakes
// =============================================================================

type fakeUsers map[string]*domain.User

func newFakeUsers(names ...string) fakeUsers {
	u := fakeUsers{}
	for _, n := range names {
		u[n] = &domain.User{ID: uuid.New(), Username: n, Email: n + "@example.com"}
	}
	return u
}

func (f fakeUsers) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, ok := f[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (f fakeUsers) SearchByUsername(ctx context.Context, query string, limit int) ([]domain.User, error) {
	out := []domain.User{}
	for name, u := range f {
		if strings.HasPrefix(name, query) && len(out) < limit {
			out = append(out, *u)
		}
	}
	return out, nil
}

type fakeAuth struct {
	users        fakeUsers
	loggedOut    []string
	revokedAll   []uuid.UUID
	refreshCalls int
}

func (f *fakeAuth) pair() *auth.TokenPair {
	return &auth.TokenPair{AccessToken: "access", RefreshToken: "refresh-" + uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour)}
}

func (f *fakeAuth) Register(ctx context.Context, in auth.RegisterInput) (*domain.User, *auth.TokenPair, error) {
	if in.Username == "" {
		return nil, nil, &auth.InputError{Field: "username", Message: "username required"}
	}
	if _, ok := f.users[in.Username]; ok {
		return nil, nil, domain.ErrUsernameTaken
	}
	u := &domain.User{ID: uuid.New(), Username: in.Username, Email: in.Email}
	f.users[in.Username] = u
	return u, f.pair(), nil
}

func (f *fakeAuth) Login(ctx context.Context, in auth.LoginInput) (*domain.User, *auth.TokenPair, error) {
	u, ok := f.users[in.EmailOrUsername]
	if !ok || in.Password != "Secret123" {
		return nil, nil, domain.ErrInvalidCredentials
	}
	return u, f.pair(), nil
}

func (f *fakeAuth) Refresh(ctx context.Context, token string) (*domain.User, *auth.TokenPair, error) {
	f.refreshCalls++
	if token != "good" {
		return nil, nil, domain.ErrTokenRevoked
	}
	return f.users["alice"], f.pair(), nil
}

func (f *fakeAuth) Logout(ctx context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

func (f *fakeAuth) LogoutAll(ctx context.Context, id uuid.UUID) error {
	f.revokedAll = append(f.revokedAll, id)
	return nil
}

func (f *fakeAuth) CurrentUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (f *fakeAuth) RefreshTokenTTL() time.Duration { return 24 * time.Hour }

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, username string, event hangout.Event) (bool, error) {
	return false, nil
}

// =============================================================================
// Helpers
// =============================================================================

type apiEnv struct {
	mux   *http.ServeMux
	users fakeUsers
	auth  *fakeAuth
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	users := newFakeUsers("alice", "bob", "albert")
	fa := &fakeAuth{users: users}

	authH := NewAuthHandler(fa, true, discard)
	userH := NewUserHandler(users, discard)
	relay := hangout.NewService(store.NewMemoryStore(), users, nopNotifier{}, discard)
	hangoutH := NewHangoutHandler(relay, discard)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", authH.Register)
	mux.HandleFunc("POST /auth/login", authH.Login)
	mux.HandleFunc("POST /auth/refresh", authH.Refresh)
	mux.HandleFunc("POST /auth/logout", authH.Logout)
	mux.HandleFunc("POST /auth/logout-all", authH.LogoutAll)
	mux.HandleFunc("GET /auth/me", authH.Me)
	mux.HandleFunc("GET /users/search", userH.Search)
	mux.HandleFunc("GET /users/{username}", userH.GetByUsername)
	mux.HandleFunc("GET /hangouts", hangoutH.List)
	mux.HandleFunc("GET /hangouts/{username}", hangoutH.Get)
	mux.HandleFunc("POST /hangouts/{username}/{action}", hangoutH.Action)

	return &apiEnv{mux: mux, users: users, auth: fa}
}

// do serves a request as username ("" for anonymous)
func (e *apiEnv) do(username, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if username != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), e.users[username].ID, username))
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// =============================================================================
// Auth Handler Tests
// =============================================================================

func TestAuthHandler_RegisterSetsCookie(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("", http.MethodPost, "/auth/register", `{"email":"carol@example.com","username":"carol","password":"Secret123"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "access", body["access_token"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "carol", user["username"])
	assert.NotContains(t, user, "email", "public user hides email")

	c := findCookie(rec, refreshCookie)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, "/auth", c.Path)
}

func TestAuthHandler_Errors(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"bad json", "/auth/register", `{`, http.StatusBadRequest},
		{"input error", "/auth/register", `{"email":"x@example.com"}`, http.StatusBadRequest},
		{"username taken", "/auth/register", `{"email":"x@example.com","username":"alice","password":"Secret123"}`, http.StatusConflict},
		{"wrong password", "/auth/login", `{"emailorusername":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"login ok", "/auth/login", `{"emailorusername":"alice","password":"Secret123"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("", http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthHandler_Refresh(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("", http.MethodPost, "/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.auth.refreshCalls, "no cookie, no call")

	rec = env.do("", http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: refreshCookie, Value: "stale"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "revoked")

	rec = env.do("", http.MethodPost, "/auth/refresh", "", &http.Cookie{Name: refreshCookie, Value: "good"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, findCookie(rec, refreshCookie))
}

func TestAuthHandler_LogoutClearsCookie(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("", http.MethodPost, "/auth/logout", "", &http.Cookie{Name: refreshCookie, Value: "tok"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tok"}, env.auth.loggedOut)

	c := findCookie(rec, refreshCookie)
	require.NotNil(t, c)
	assert.Negative(t, c.MaxAge)
}

func TestAuthHandler_LogoutAll(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("", http.MethodPost, "/auth/logout-all", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.auth.revokedAll)

	rec = env.do("bob", http.MethodPost, "/auth/logout-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{env.users["bob"].ID}, env.auth.revokedAll)

	c := findCookie(rec, refreshCookie)
	require.NotNil(t, c)
	assert.Negative(t, c.MaxAge)
}

func TestAuthHandler_Me(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("alice", http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[domain.User](t, rec)
	assert.Equal(t, "alice@example.com", me.Email)

	rec = env.do("", http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// User Handler Tests
// =============================================================================

func TestUserHandler_Search(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("alice", http.MethodGet, "/users/search?q=AL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Users []domain.PublicUser `json:"users"`
		Count int                 `json:"count"`
	}](t, rec)
	assert.Equal(t, 2, body.Count)
	assert.NotContains(t, rec.Body.String(), "@example.com")

	rec = env.do("alice", http.MethodGet, "/users/search?q=a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserHandler_GetByUsername(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("alice", http.MethodGet, "/users/Bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode[domain.PublicUser](t, rec).Username)

	rec = env.do("alice", http.MethodGet, "/users/zed", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Hangout Handler Tests
// =============================================================================

func TestHangoutHandler_InviteAcceptFlow(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do("alice", http.MethodPost, "/hangouts/bob/invite", `{"message":"lunch?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ack := decode[actionResponse](t, rec)
	assert.Equal(t, domain.StateInvited, ack.State)
	assert.False(t, ack.Delivered)

	rec = env.do("bob", http.MethodGet, "/hangouts/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StateInviter, decode[domain.Hangout](t, rec).State)

	// No body is fine for actions without text
	rec = env.do("bob", http.MethodPost, "/hangouts/alice/ACCEPT", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StateAccepted, decode[actionResponse](t, rec).State)

	rec = env.do("alice", http.MethodGet, "/hangouts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Hangouts []domain.Hangout `json:"hangouts"`
	}](t, rec)
	require.Len(t, list.Hangouts, 1)
	assert.Equal(t, domain.StateAccepter, list.Hangouts[0].State)
	assert.Equal(t, "bob@example.com", list.Hangouts[0].Email)
}

func TestHangoutHandler_ErrorStatuses(t *testing.T) {
	env := newAPIEnv(t)

	require.Equal(t, http.StatusOK, env.do("bob", http.MethodPost, "/hangouts/alice/block", "").Code)

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   string
		status int
	}{
		{"anonymous", "", http.MethodGet, "/hangouts", "", http.StatusUnauthorized},
		{"unknown action", "alice", http.MethodPost, "/hangouts/bob/poke", "", http.StatusBadRequest},
		{"bad body", "alice", http.MethodPost, "/hangouts/bob/invite", "{", http.StatusBadRequest},
		{"self", "alice", http.MethodPost, "/hangouts/alice/invite", "", http.StatusBadRequest},
		{"empty message", "albert", http.MethodPost, "/hangouts/bob/message", `{"message":" "}`, http.StatusBadRequest},
		{"unknown user", "alice", http.MethodPost, "/hangouts/zed/invite", "", http.StatusNotFound},
		{"blocked", "alice", http.MethodPost, "/hangouts/bob/invite", "", http.StatusForbidden},
		{"wrong state", "albert", http.MethodPost, "/hangouts/bob/accept", "", http.StatusConflict},
		{"no record", "albert", http.MethodGet, "/hangouts/bob", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRootMessage(t *testing.T) {
	err := hangoutErr{domain.ErrSelfHangout}
	assert.Equal(t, domain.ErrSelfHangout.Error(), rootMessage(err))
}

type hangoutErr struct{ err error }

func (e hangoutErr) Error() string { return "dispatch: " + e.err.Error() }
func (e hangoutErr) Unwrap() error { return e.err }
