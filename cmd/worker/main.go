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

	"github.com/odyssey-erp/stocksync/internal/app"
	"github.com/odyssey-erp/stocksync/internal/catalog"
	jobmetrics "github.com/odyssey-erp/stocksync/internal/jobs"
	"github.com/odyssey-erp/stocksync/internal/observability"
	"github.com/odyssey-erp/stocksync/internal/platform/db"
	"github.com/odyssey-erp/stocksync/internal/shared"
	"github.com/odyssey-erp/stocksync/internal/shop"
	"github.com/odyssey-erp/stocksync/internal/transfer"
	"github.com/odyssey-erp/stocksync/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.RedisAddr == "" {
		slog.Default().Error("worker requires REDIS_ADDR")
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	shopClient := shop.NewClient(shop.Config{
		URL:             cfg.ShopURL,
		AccessToken:     cfg.ShopAccessToken,
		APIVersion:      cfg.ShopAPIVersion,
		Timeout:         cfg.ShopTimeout,
		OnBreakerChange: metrics.ObserveBreaker,
	}, logger)
	catalogService := catalog.NewService(catalog.NewRepository(pool), cfg.LocationCacheTTL)

	runner := transfer.NewRunner(transfer.NewRepository(pool), transfer.RunnerDeps{
		Locations: catalogService,
		Syncer:    shop.NewSynchronizer(shopClient, logger),
		Items:     shopClient,
		Adjuster:  shop.NewAdjuster(shopClient),
		Observer:  metrics,
	}, transfer.Routing{
		PlantaLocationCode:      cfg.PlantaLocationCode,
		PlantaTransitLocationID: cfg.PlantaTransitLocationID,
	}, logger)

	syncJob := jobs.NewTransferSyncJob(runner, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTransferSync, Handler: syncJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}
