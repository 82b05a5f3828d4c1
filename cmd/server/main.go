package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/observer/hangouts/internal/api"
	"github.com/observer/hangouts/internal/auth"
	"github.com/observer/hangouts/internal/config"
	"github.com/observer/hangouts/internal/database"
	"github.com/observer/hangouts/internal/hangout"
	"github.com/observer/hangouts/internal/middleware"
	"github.com/observer/hangouts/internal/pubsub"
	"github.com/observer/hangouts/internal/server"
	"github.com/observer/hangouts/internal/store"
	"github.com/observer/hangouts/internal/websocket"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context for initialization
	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Postgres: users, credentials, refresh tokens
	db, err := database.New(initCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to database")

	if err := database.EnsureSchema(initCtx, db, database.Migrations()); err != nil {
		return err
	}

	// Hangout records
	hangouts, err := openHangoutStore(initCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hangouts.Close(closeCtx); err != nil {
			slog.Error("close hangout store", "error", err)
		}
	}()

	// PubSub: in-memory for single instance, Redis across instances
	ps, err := openPubSub(initCtx, cfg)
	if err != nil {
		return err
	}
	defer ps.Close()

	userRepo := database.NewUserRepository(db)

	tokenService, err := auth.NewTokenService(cfg.JWTSigningKey,
		auth.WithAccessTTL(cfg.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
	)
	if err != nil {
		return err
	}
	authService := auth.NewService(userRepo, tokenService)

	relay := hangout.NewService(hangouts, userRepo, websocket.NewPubSubNotifier(ps), logger.With("component", "relay"))

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMin)

	// Everything below lives until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go cleanupLimiter(ctx, limiter)

	// The hub outlives the signal so HTTP drains first
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	wsHub := websocket.NewHub(authService, relay, ps, limiter, logger.With("component", "hub"))
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		wsHub.Run(hubCtx)
	}()

	var origins []string
	if !cfg.IsDevelopment() {
		origins = cfg.AllowedOrigins
	}

	deps := &server.Dependencies{
		Tokens:         authService,
		RateLimiter:    limiter,
		AuthHandler:    api.NewAuthHandler(authService, !cfg.IsDevelopment(), logger),
		UserHandler:    api.NewUserHandler(userRepo, logger),
		HangoutHandler: api.NewHangoutHandler(relay, logger),
		WSHandler:      websocket.NewHandler(wsHub, origins, logger),
		Readiness: map[string]server.ReadinessCheck{
			"postgres": db.Health,
			"hangouts": hangouts.Ping,
		},
		Logger: logger,
	}

	srv := server.New(cfg, deps)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr, "store", cfg.HangoutStore, "pubsub", cfg.PubSubType)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// Hijacked WebSocket connections are not covered by Shutdown
	stopHub()
	<-hubDone

	slog.Info("server stopped")
	return nil
}

func openHangoutStore(ctx context.Context, cfg *config.Config) (store.HangoutStore, error) {
	if cfg.HangoutStore == config.StoreMemory {
		slog.Warn("using in-memory hangout store - records are lost on restart")
		return store.NewMemoryStore(), nil
	}
	return store.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
}

func openPubSub(ctx context.Context, cfg *config.Config) (pubsub.PubSub, error) {
	if cfg.PubSubType == config.PubSubRedis {
		return pubsub.NewRedisPubSub(ctx, cfg.RedisURL)
	}
	return pubsub.NewMemoryPubSub(), nil
}

func cleanupLimiter(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Cleanup()
		}
	}
}
