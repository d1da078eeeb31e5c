package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/safety/internal/config"
	"github.com/ehr/safety/internal/domain/alert"
	"github.com/ehr/safety/internal/domain/bcma"
	"github.com/ehr/safety/internal/domain/rules"
	"github.com/ehr/safety/internal/platform/auth"
	"github.com/ehr/safety/internal/platform/db"
	"github.com/ehr/safety/internal/platform/metrics"
	"github.com/ehr/safety/internal/platform/middleware"
	"github.com/ehr/safety/internal/platform/websocket"
	"github.com/ehr/safety/internal/platform/worker"
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: DevAuthMiddleware grants admin to unauthenticated requests")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return err
	}
	defer a.Close()
	logger.Info().Msg("connected to database")

	tasks := worker.NewPeriodic(logger)
	if err := tasks.Add(worker.Task{
		Name:       rules.TaskEvaluate,
		Interval:   cfg.CheckInterval(),
		Timeout:    cfg.CheckInterval(),
		RunOnStart: true,
		Run:        a.evaluateAll,
	}); err != nil {
		return err
	}
	if err := tasks.Add(worker.Task{
		Name:     alert.TaskCleanup,
		Interval: cfg.CleanupInterval(),
		Timeout:  cfg.CleanupInterval(),
		Run: func(ctx context.Context) error {
			_, err := a.runCleanup(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	e := newEcho(a, tasks)
	tasks.Start()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := tasks.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("background tasks did not stop in time")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the HTTP surface. Manual evaluate and cleanup requests go
// through tasks.
func newEcho(a *app, tasks *worker.Periodic) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(db.TenantMiddleware(cfg.DefaultTenant))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, func() *db.PoolStats { return db.GetPoolStats(a.pool) }))
	e.GET("/metrics", metrics.Handler())

	websocket.NewHandler(a.hub, alert.Topics, alert.AllowTopic).RegisterRoutes(e.Group(""))

	api := e.Group("/api/v1")
	alert.NewHandler(a.alertSvc, tasks).RegisterRoutes(api)
	rules.NewHandler(tasks).RegisterRoutes(api)
	bcma.NewHandler(a.bcmaSvc).RegisterRoutes(api)

	return e
}
