// AngelaMos | 2026
// serve.go

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/carterperez-dev/accounts-api/internal/admin"
	"github.com/carterperez-dev/accounts-api/internal/auth"
	"github.com/carterperez-dev/accounts-api/internal/config"
	"github.com/carterperez-dev/accounts-api/internal/core"
	"github.com/carterperez-dev/accounts-api/internal/health"
	"github.com/carterperez-dev/accounts-api/internal/middleware"
	"github.com/carterperez-dev/accounts-api/internal/server"
	"github.com/carterperez-dev/accounts-api/internal/user"
)

const (
	drainDelay = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configPath)
	},
}

//nolint:funlen // bootstrap code is inherently verbose
func runServe(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	telemetry, err := core.NewTelemetry(ctx, cfg)
	if err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
	} else if telemetry.Enabled() {
		logger.Info("OpenTelemetry tracer initialized",
			"endpoint", cfg.Otel.Endpoint,
		)
	}

	db, err := core.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeQuietly("database", db.Close)
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeQuietly("redis", redis.Close)
	logger.Info("redis connected", "pool_size", cfg.Redis.PoolSize)

	hasher, err := core.NewPasswordHasher(
		cfg.Security.BcryptCost,
		cfg.Security.HashConcurrency,
	)
	if err != nil {
		return err
	}

	denylist := auth.NewRedisDenylist(redis.Client)

	tokens, err := auth.NewTokenManager(
		cfg.JWT,
		auth.WithRevocationChecker(denylist),
	)
	if err != nil {
		return err
	}
	logger.Info("token manager initialized",
		"algorithm", "HS256",
		"ttl", tokens.TTL(),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewHTTPMetrics(registry)
	authMetrics := auth.NewMetrics(registry)

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo, denylist)
	userHandler := user.NewHandler(userSvc)

	authSvc := auth.NewService(userSvc, tokens, hasher, denylist, authMetrics)
	authHandler := auth.NewHandler(authSvc)

	healthHandler := health.NewHandler(
		health.Dependency{Name: "database", Checker: db},
		health.Dependency{Name: "redis", Checker: redis},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		Accounts:   userSvc,
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer(logger))
	router.Use(middleware.Logger(logger))
	router.Use(httpMetrics.Handler)
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerWindow(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
				cfg.RateLimit.Window,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{Registry: registry},
		))
	}

	authenticator := middleware.Authenticator(tokens)
	loginGuard := credentialGuard(cfg.RateLimit, redis, tokens)

	router.Route("/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r, authenticator, loginGuard)
		userHandler.RegisterRoutes(r, authenticator)
		adminHandler.RegisterRoutes(r, authenticator)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry.Enabled() {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	logger.Info("application stopped")
	return nil
}

// credentialGuard throttles the routes that accept passwords. A caller that
// already holds a valid token gets a per-user bucket, everyone else shares
// the per-IP bucket.
func credentialGuard(
	cfg config.RateLimitConfig,
	redis *core.Redis,
	verifier middleware.TokenVerifier,
) func(http.Handler) http.Handler {
	limiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit: middleware.PerWindow(
			cfg.LoginRequests,
			cfg.LoginBurst,
			cfg.Window,
		),
		KeyFunc:  middleware.KeyWithPrefix("login", middleware.KeyByUser),
		FailOpen: true,
	})
	optional := middleware.OptionalAuth(verifier)

	return func(next http.Handler) http.Handler {
		return optional(limiter.Handler(next))
	}
}
