// Command recompute runs the totals repair batch directly against the
// database, for one-off maintenance without a worker.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/quotedesk/quotedesk/internal/app"
	"github.com/quotedesk/quotedesk/internal/platform/db"
	"github.com/quotedesk/quotedesk/internal/recompute"
)

func main() {
	ctx := context.Background()

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

	report, err := recompute.New(pool, logger, cfg.RecomputeParallel).Run(ctx)
	if err != nil {
		logger.Error("recompute", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("recompute report",
		slog.Int("checked", report.Checked),
		slog.Int("corrected", report.Corrected),
		slog.Int("skipped", report.Skipped),
	)
}
