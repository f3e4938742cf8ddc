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

	"github.com/quotedesk/quotedesk/internal/app"
	"github.com/quotedesk/quotedesk/internal/observability"
	"github.com/quotedesk/quotedesk/internal/platform/cache"
	"github.com/quotedesk/quotedesk/internal/platform/db"
	"github.com/quotedesk/quotedesk/internal/quotes"
	"github.com/quotedesk/quotedesk/internal/shared"
	"github.com/quotedesk/quotedesk/jobs"
	"github.com/quotedesk/quotedesk/report"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	quotesRepo := quotes.NewRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	summaryCache := cache.NewJSONCache(redisClient, cfg.SummaryCacheTTL)

	quotesService := quotes.NewService(quotesRepo, idempotencyStore, summaryCache, logger, quotes.ServiceConfig{
		Policy:              quotes.ValidityPolicy{DueWindowDays: cfg.ValidityDueWindowDays},
		DefaultValidityDays: cfg.DefaultValidityDays,
	})
	var renderer quotes.DocumentRenderer
	if cfg.GotenbergURL != "" {
		r, err := report.NewRenderer(report.NewClient(cfg.GotenbergURL))
		if err != nil {
			logger.Error("parse document templates", slog.Any("error", err))
			os.Exit(1)
		}
		renderer = r
	}
	quotesHandler := quotes.NewHandler(logger, quotesService, renderer)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Metrics:       observability.NewMetrics(),
		QuotesHandler: quotesHandler,
		JobsHandler:   jobHandler,
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
