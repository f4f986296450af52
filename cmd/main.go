package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Opensyte/opensyte-sub008/internal/bootstrap"
	"github.com/Opensyte/opensyte-sub008/internal/config"
	"github.com/Opensyte/opensyte-sub008/internal/engine"
	"github.com/Opensyte/opensyte-sub008/internal/rbac"
	"github.com/Opensyte/opensyte-sub008/internal/repository"
	"github.com/Opensyte/opensyte-sub008/internal/router"
	"github.com/Opensyte/opensyte-sub008/internal/scheduler"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	// --- Occurrence deduper (Redis with in-memory fallback) ---
	deduper, dedupErr := scheduler.NewDeduper(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		cfg.Scheduler.ClaimTTL,
	)
	if dedupErr != nil {
		logger.Warn("Redis unavailable for occurrence dedup, using in-memory fallback", zap.Error(dedupErr))
	}

	var metrics *redis.Client
	if cfg.Redis.Addr != "" {
		metrics = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		})
	}

	// --- Workflow engine client ---
	executor := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.Token, cfg.Engine.Timeout, logger)

	// --- Authorizer ---
	var authorizer rbac.Authorizer
	if cfg.RBAC.AllowAll || cfg.RBAC.BaseURL == "" {
		logger.Warn("RBAC disabled, all schedule actions permitted")
		authorizer = rbac.AllowAll{}
	} else {
		authorizer = rbac.NewHTTPAuthorizer(cfg.RBAC.BaseURL, cfg.RBAC.Token, cfg.RBAC.Timeout)
	}

	// --- Scheduler service ---
	service := scheduler.NewService(
		repository.NewScheduleRepository(db),
		repository.NewWorkflowRepository(db),
		repository.NewExecutionRepository(db),
		executor,
		logger,
	)

	// --- Dispatch loop ---
	dispatcher := scheduler.NewDispatcher(
		service,
		deduper,
		metrics,
		logger,
		cfg.Scheduler.TickSpec,
		cfg.Scheduler.BatchSize,
		cfg.Scheduler.MaxConcurrent,
	)
	if err := dispatcher.Start(); err != nil {
		logger.Fatal("Failed to start dispatch loop", zap.Error(err))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, service, authorizer, logger, cfg.API.Key)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting scheduler server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Let in-flight dispatches finish
	ctx := dispatcher.Stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
