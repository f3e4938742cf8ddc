package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/quotedesk/quotedesk/internal/app"
)

const migrationsDir = "migrations"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	dbConn, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		logger.Error("open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("set dialect", slog.Any("error", err))
		os.Exit(1)
	}

	if err := goose.RunContext(context.Background(), command, dbConn, migrationsDir, os.Args[2:]...); err != nil {
		logger.Error("goose", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}
