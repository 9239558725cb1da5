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

	"github.com/procuremesh/procuremesh/internal/app"
	"github.com/procuremesh/procuremesh/internal/notify"
	"github.com/procuremesh/procuremesh/internal/observability"
	"github.com/procuremesh/procuremesh/internal/platform/cache"
	"github.com/procuremesh/procuremesh/internal/platform/db"
	"github.com/procuremesh/procuremesh/internal/shared"
	"github.com/procuremesh/procuremesh/internal/vendors"
	"github.com/procuremesh/procuremesh/internal/workflow"
	"github.com/procuremesh/procuremesh/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	workflowRepo := workflow.NewRepository(pool)
	vendorRepo := vendors.NewRepository(pool)
	vendorService := vendors.NewService(vendorRepo)
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	var notifier workflow.Notifier = notify.LogNotifier{Logger: logger}
	var statusCache *workflow.StatusCache
	var jobHandler *jobs.Handler

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, notifications fall back to log", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		statusCache = workflow.NewStatusCache(redisClient, cfg.StatusCacheTTL)

		queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("asynq client", slog.Any("error", err))
		} else {
			defer func() {
				if err := queueClient.Close(); err != nil {
					logger.Warn("asynq close", slog.Any("error", err))
				}
			}()
			notifier = notify.NewAsynqNotifier(queueClient)
		}
		jobHandler = jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger)
	}

	workflowService := workflow.NewService(workflowRepo, vendorService, notifier, auditLogger, idempotencyStore, metrics, logger)
	workflowHandler := workflow.NewHandler(logger, workflowService, statusCache)
	vendorsHandler := vendors.NewHandler(logger, vendorService)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		WorkflowHandler: workflowHandler,
		VendorsHandler:  vendorsHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
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
