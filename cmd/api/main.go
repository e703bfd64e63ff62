package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dafibh/deskflow/deskflow-backend/internal/config"
	"github.com/dafibh/deskflow/deskflow-backend/internal/handler"
	"github.com/dafibh/deskflow/deskflow-backend/internal/idempotency"
	"github.com/dafibh/deskflow/deskflow-backend/internal/middleware"
	"github.com/dafibh/deskflow/deskflow-backend/internal/repository/postgres"
	"github.com/dafibh/deskflow/deskflow-backend/internal/saga"
	"github.com/dafibh/deskflow/deskflow-backend/internal/service"
	"github.com/dafibh/deskflow/deskflow-backend/internal/telemetry"
	"github.com/dafibh/deskflow/deskflow-backend/internal/websocket"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	// Initialize zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	if cfg.OTELEnabled {
		shutdownTelemetry, err := telemetry.InitTelemetry(ctx, "deskflow-api", version)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize telemetry")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Telemetry shutdown failed")
			}
		}()
	}

	// Connect to database
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		ConnString: cfg.DatabaseURL,
		MaxConns:   cfg.DBMaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	gateway := postgres.NewGateway(pool)

	// Shared idempotent outcomes, when Redis is configured
	var outcomes idempotency.OutcomeStore
	if cfg.RedisURL != "" {
		rc, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer rc.Close()
		outcomes = idempotency.NewRedisStore(rc, "deskflow:idem")
		log.Info().Msg("Sharing idempotent outcomes through redis")
	}

	engine := saga.NewEngine(log.Logger, saga.Config{
		StepTimeout:       cfg.Saga.StepTimeout,
		CompensationTries: cfg.Saga.CompensationTries,
		RetryInterval:     cfg.Saga.RetryInterval,
	})
	guard := idempotency.NewGuard(log.Logger, idempotency.Config{
		Retention:        cfg.Idempotency.Retention,
		FailureRetention: cfg.Idempotency.FailureRetention,
		CleanupInterval:  idempotency.DefaultCleanupInterval,
	}, outcomes)
	defer guard.Stop()

	// Real-time updates
	hub := websocket.NewHub()

	// Initialize services
	userService := service.NewUserService(gateway)
	provisioningService, err := service.NewProvisioningService(gateway, engine, guard)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid provisioning workflow")
	}
	provisioningService.SetEventPublisher(hub)
	invitationService, err := service.NewInvitationService(gateway, engine, guard)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid invitation workflow")
	}
	invitationService.SetEventPublisher(hub)
	authService := service.NewAuthService(gateway, provisioningService)

	// Initialize auth
	authMiddleware, err := middleware.NewAuthMiddleware(cfg.Auth0Domain, cfg.Auth0Audience, userService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth middleware")
	}
	wsValidator, err := websocket.NewAuth0JWTValidator(cfg.Auth0Domain, cfg.Auth0Audience, userService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create websocket validator")
	}
	rateLimiter := middleware.NewRateLimiterWithConfig(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	defer rateLimiter.Stop()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(pool)
	authHandler := handler.NewAuthHandler(authService)
	workspaceHandler := handler.NewWorkspaceHandler(provisioningService)
	inviteHandler := handler.NewInviteHandler(invitationService)
	wsHandler := handler.NewWebSocketHandler(hub, wsValidator, cfg.CORSOrigins)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Request ID middleware
	e.Use(echomiddleware.RequestID())

	// CORS middleware
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, handler.HeaderIdempotencyKey},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Security headers middleware (helmet-like)
	e.Use(echomiddleware.SecureWithConfig(echomiddleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	// Request logging middleware with zerolog
	e.Use(zerologMiddleware())

	// Recovery middleware
	e.Use(echomiddleware.Recover())

	handler.RegisterRoutes(e, authMiddleware, rateLimiter, healthHandler, authHandler, workspaceHandler, inviteHandler, wsHandler)

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// zerologMiddleware returns a middleware that logs requests using zerolog
func zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			log.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Msg("request")

			return nil
		}
	}
}
