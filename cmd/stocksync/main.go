package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stocksync/cmd/stocksync/cli"
	"github.com/odyssey-erp/stocksync/internal/app"
	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/erp"
	"github.com/odyssey-erp/stocksync/internal/observability"
	"github.com/odyssey-erp/stocksync/internal/platform/cache"
	"github.com/odyssey-erp/stocksync/internal/platform/db"
	"github.com/odyssey-erp/stocksync/internal/shared"
	"github.com/odyssey-erp/stocksync/internal/shop"
	"github.com/odyssey-erp/stocksync/internal/transfer"
	"github.com/odyssey-erp/stocksync/jobs"
)

const lockWait = 15 * time.Second

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(cli.RunJobs(ctx, os.Args[2:], os.Stdout, os.Stderr))
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	var locker shared.Locker = shared.NewLocalLocker()
	if redisClient != nil {
		locker = shared.NewRedisLocker(redisClient, cfg.LockTTL, lockWait)
	} else {
		logger.Warn("redis not configured, transfer locks are process local")
	}

	metrics := observability.NewMetrics()

	erpClient := erp.NewClient(erp.Config{
		URL:             cfg.ERPURL,
		Database:        cfg.ERPDB,
		UserID:          cfg.ERPUserID,
		APIKey:          cfg.ERPAPIKey,
		Timeout:         cfg.ERPTimeout,
		OnBreakerChange: metrics.ObserveBreaker,
	}, logger)
	shopClient := shop.NewClient(shop.Config{
		URL:             cfg.ShopURL,
		AccessToken:     cfg.ShopAccessToken,
		APIVersion:      cfg.ShopAPIVersion,
		Timeout:         cfg.ShopTimeout,
		OnBreakerChange: metrics.ObserveBreaker,
	}, logger)

	catalogService := catalog.NewService(catalog.NewRepository(pool), cfg.LocationCacheTTL)
	transferRepo := transfer.NewRepository(pool)
	routing := transfer.Routing{
		PlantaLocationCode:      cfg.PlantaLocationCode,
		PlantaTransitLocationID: cfg.PlantaTransitLocationID,
	}
	adjuster := shop.NewAdjuster(shopClient)

	runner := transfer.NewRunner(transferRepo, transfer.RunnerDeps{
		Locations: catalogService,
		Syncer:    shop.NewSynchronizer(shopClient, logger),
		Items:     shopClient,
		Adjuster:  adjuster,
		Observer:  metrics,
	}, routing, logger)

	var (
		dispatcher transfer.Dispatcher
		inline     *transfer.InlineDispatcher
		inspector  *asynq.Inspector
	)
	if redisClient != nil {
		inspector = asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer inspector.Close()
	}
	switch cfg.SyncMode {
	case app.SyncModeQueue:
		queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer queue.Close()
		dispatcher = queue
	default:
		inline = transfer.NewInlineDispatcher(runner, cfg.SyncTimeout, logger)
		dispatcher = inline
	}

	transferService := transfer.NewService(transferRepo, transfer.Dependencies{
		Locations:  catalogService,
		Resolver:   catalogService.Resolver(),
		Stock:      erp.NewStockValidator(erpClient),
		Committer:  erp.NewCommitter(erpClient, logger),
		Locker:     locker,
		Dispatcher: dispatcher,
		Items:      shopClient,
		Adjuster:   adjuster,
	}, transfer.ServiceConfig{
		DraftsEnabled:      cfg.DraftsEnabled,
		StockCheckFailOpen: cfg.StockCheckFailOpen,
		Routing:            routing,
	}, logger)
	reconciler := transfer.NewReconciler(transferService, shopClient, metrics, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		TransferHandler: transfer.NewHandler(logger, transferService, reconciler, shared.NewIdempotencyStore(pool)),
		CatalogHandler:  catalog.NewHandler(logger, catalogService),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("sync_mode", cfg.SyncMode))
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
	if inline != nil {
		if err := waitInline(shutdownCtx, inline); err != nil {
			logger.Warn("inline sync still running at exit", slog.Any("error", err))
		}
	}
}

// waitInline blocks until detached synchronizations finish or ctx expires.
func waitInline(ctx context.Context, d *transfer.InlineDispatcher) error {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait inline sync: %w", ctx.Err())
	}
}
