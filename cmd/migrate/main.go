package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/odyssey-erp/custody/internal/app"
	"github.com/odyssey-erp/custody/internal/platform/db"
	"github.com/odyssey-erp/custody/internal/store/migrations"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version")
	version := flag.String("version", "", "target version for -cmd=version")
	flag.Parse()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping migrations")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, "migrate").With(slog.String("cmd", *cmd))
	ctx := context.Background()

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := migrations.Open(pool)
	defer sqlDB.Close()

	switch *cmd {
	case "up", "down", "status":
		err = migrations.Run(ctx, sqlDB, *cmd)
	case "version":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for version command")
			os.Exit(1)
		}
		err = migrations.MigrateToVersion(ctx, sqlDB, *version)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrate done")
}
