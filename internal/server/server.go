package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/observer/hangouts/internal/api"
	"github.com/observer/hangouts/internal/auth"
	"github.com/observer/hangouts/internal/config"
	"github.com/observer/hangouts/internal/middleware"
)

// ReadinessCheck reports whether a backing service is reachable
type ReadinessCheck func(ctx context.Context) error

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	Tokens         auth.TokenValidator
	RateLimiter    *middleware.RateLimiter
	AuthHandler    *api.AuthHandler
	UserHandler    *api.UserHandler
	HangoutHandler *api.HangoutHandler
	WSHandler      http.Handler
	Readiness      map[string]ReadinessCheck
	Logger         *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      NewHandler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewHandler builds the routed and wrapped handler
func NewHandler(cfg *config.Config, deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies Postgres and the hangout store
	mux.HandleFunc("GET /readyz", readyHandler(deps.Readiness, deps.Logger))

	mux.Handle("GET /metrics", promhttp.Handler())

	// =========================================================================
	// Auth routes (public)
	// =========================================================================
	mux.HandleFunc("POST /auth/register", deps.AuthHandler.Register)
	mux.HandleFunc("POST /auth/login", deps.AuthHandler.Login)
	mux.HandleFunc("POST /auth/refresh", deps.AuthHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", deps.AuthHandler.Logout)

	// =========================================================================
	// Protected routes (require auth)
	// =========================================================================
	authMiddleware := auth.Middleware(deps.Tokens)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}
	limited := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(deps.RateLimiter.Middleware(h))
	}

	mux.Handle("GET /auth/me", protected(deps.AuthHandler.Me))
	mux.Handle("POST /auth/logout-all", protected(deps.AuthHandler.LogoutAll))

	// =========================================================================
	// User routes
	// =========================================================================
	mux.Handle("GET /users/search", protected(deps.UserHandler.Search))
	mux.Handle("GET /users/{username}", protected(deps.UserHandler.GetByUsername))

	// =========================================================================
	// Hangout routes
	// =========================================================================
	mux.Handle("GET /hangouts", protected(deps.HangoutHandler.List))
	mux.Handle("GET /hangouts/{username}", protected(deps.HangoutHandler.Get))
	mux.Handle("POST /hangouts/{username}/{action}", limited(deps.HangoutHandler.Action))

	// =========================================================================
	// WebSocket route (authenticates in-band)
	// =========================================================================
	mux.Handle("GET /ws", deps.WSHandler)
}

func readyHandler(checks map[string]ReadinessCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", "check", name, "error", err)
				failed[name] = "unavailable"
			}
		}

		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "not ready",
				"checks": failed,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
