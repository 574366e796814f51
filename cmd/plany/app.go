package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/plany/internal/db"
	"github.com/nkiryanov/plany/internal/handlers"
	"github.com/nkiryanov/plany/internal/logger"
	"github.com/nkiryanov/plany/internal/repository/postgres"
	"github.com/nkiryanov/plany/internal/service/auth"
	"github.com/nkiryanov/plany/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/plany/internal/service/ratelimit"
	"github.com/nkiryanov/plany/internal/service/sweeper"
	"github.com/nkiryanov/plany/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *sweeper.Sweeper
	pool    *pgxpool.Pool
	logger  logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  c.AccessSecretKey,
		RefreshSecret: c.RefreshSecretKey,
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
		BlacklistTTL:  c.BlacklistTTL,
	}, storage)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	policy := auth.DefaultPolicyConfig()
	policy.MinLength = c.PasswordMinLength

	authService, err := auth.NewService(auth.Config{Policy: policy}, tokenManager, storage, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	limiter, err := ratelimit.New(ratelimit.Config{Limit: c.RateLimit, Window: c.RateLimitWindow}, storage.RateLimit())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating rate limiter. Err: %w", err)
	}

	mux := handlers.NewRouter(
		authService,
		tokenManager,
		user.NewService(storage.User()),
		limiter,
		pool,
		logger,
	)

	sw := sweeper.New(c.CleanupInterval, logger,
		sweeper.Task{Name: "blacklist", Run: tokenManager.CleanupExpiredBlacklistedTokens},
		sweeper.Task{Name: "refresh_tokens", Run: tokenManager.CleanupExpiredRefreshTokens},
		sweeper.Task{Name: "rate_limits", Run: limiter.Cleanup},
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		sweeper:    sw,
		pool:       pool,
		logger:     logger,
	}, nil
}

// Run starts http server and sweeper and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.pool.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.sweeper.Sweep(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}
