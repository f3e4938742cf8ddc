package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/quotedesk/quotedesk/internal/app"
	jobmetrics "github.com/quotedesk/quotedesk/internal/jobs"
	"github.com/quotedesk/quotedesk/internal/platform/cache"
	"github.com/quotedesk/quotedesk/internal/platform/db"
	"github.com/quotedesk/quotedesk/internal/quotes"
	"github.com/quotedesk/quotedesk/internal/recompute"
	"github.com/quotedesk/quotedesk/internal/shared"
	"github.com/quotedesk/quotedesk/jobs"
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	quotesRepo := quotes.NewRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	summaryCache := cache.NewJSONCache(nil, 0)
	quotesService := quotes.NewService(quotesRepo, idempotencyStore, summaryCache, logger, quotes.ServiceConfig{
		Policy:              quotes.ValidityPolicy{DueWindowDays: cfg.ValidityDueWindowDays},
		DefaultValidityDays: cfg.DefaultValidityDays,
	})
	recomputeService := recompute.New(pool, logger, cfg.RecomputeParallel)
	metrics := jobmetrics.NewMetrics(nil)

	var cron []jobs.CronRegistration
	if cfg.RecomputeCron != "" {
		task, err := jobs.NewRecomputeTask(jobs.RecomputePayload{Reason: "scheduled"})
		if err != nil {
			logger.Error("build recompute task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.RecomputeCron, Task: task})
	}
	if cfg.FollowupScanCron != "" {
		task, err := jobs.NewFollowupScanTask()
		if err != nil {
			logger.Error("build followup scan task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.FollowupScanCron, Task: task})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotesRecompute, Handler: jobs.NewRecomputeHandler(recomputeService, metrics, logger)},
			{Type: jobs.TaskFollowupScan, Handler: jobs.NewFollowupScanHandler(quotesService, metrics, logger)},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
