package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian/internal/accounting/journals"
	"github.com/meridian-pos/meridian/internal/accounting/mappings"
	"github.com/meridian-pos/meridian/internal/app"
	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/integration"
	"github.com/meridian-pos/meridian/internal/observability"
	"github.com/meridian-pos/meridian/internal/platform/cache"
	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
	"github.com/meridian-pos/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The balance cache degrades to direct bin reads without redis; the
		// job queue endpoints will surface their own errors.
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	journalRepo := journals.NewRepository(dbpool)
	journalService := journals.NewService(journalRepo, auditLogger)
	mappingRepo := mappings.NewRepository(dbpool)
	glHooks := integration.NewHooks(journalService, mappingRepo)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	metrics := observability.NewMetrics()

	balanceCache := stock.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	stockRepo := stock.NewRepository(dbpool)
	stockService := stock.NewService(stockRepo, catalogService, catalogService, glHooks, auditLogger, idempotencyStore, balanceCache, stock.ServiceConfig{
		MaxConflictRetries: cfg.SubmitMaxRetries,
		Metrics:            metrics,
	})
	stockHandler := stock.NewHandler(logger, stockService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		StockHandler:   stockHandler,
		CatalogHandler: catalogHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
