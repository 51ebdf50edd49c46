package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/custody/internal/app"
	"github.com/odyssey-erp/custody/internal/cleanup"
	"github.com/odyssey-erp/custody/internal/custody"
	"github.com/odyssey-erp/custody/internal/ledger"
	"github.com/odyssey-erp/custody/internal/notify"
	"github.com/odyssey-erp/custody/internal/observability"
	"github.com/odyssey-erp/custody/internal/platform/cache"
	"github.com/odyssey-erp/custody/internal/platform/db"
	"github.com/odyssey-erp/custody/internal/shared"
	"github.com/odyssey-erp/custody/internal/slips"
	"github.com/odyssey-erp/custody/internal/store/migrations"
	"github.com/odyssey-erp/custody/internal/store/pgstore"
	"github.com/odyssey-erp/custody/internal/transfers"
	"github.com/odyssey-erp/custody/jobs"
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
	logger := app.NewLogger(cfg, "custody")

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("custody server", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		sqlDB := migrations.Open(pool)
		err := migrations.Up(ctx, sqlDB)
		_ = sqlDB.Close()
		if err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	metrics := observability.NewMetrics()

	var publisher *notify.Publisher
	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, change feed disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		publisher = notify.NewPublisher(redisClient, cfg.ChangeFeedChannel, logger)
		publisher.Observe(metrics.ChangePublished)
	}

	store := pgstore.New(pool)
	audit := shared.NewAuditLogger(pool)

	engine := ledger.NewEngine(store, audit, publisher, logger)
	registry := custody.NewRegistry(store, engine, audit, publisher, logger)
	slipService := slips.NewService(store, registry, engine, audit, publisher, cfg.TransferNumberMaxAttempts, logger)
	transferService := transfers.NewService(store, registry, engine, audit, publisher, metrics,
		transfers.Options{MaxAttempts: cfg.TransferNumberMaxAttempts}, logger)
	cleanupService := cleanup.NewService(store, transferService, audit, publisher, metrics, cfg.CleanupRetry, logger)

	redisOpts := cfg.AsynqRedis()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
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

	params := app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		CustodyHandler:  custody.NewHandler(logger, registry),
		LedgerHandler:   ledger.NewHandler(logger, engine),
		SlipsHandler:    slips.NewHandler(logger, slipService),
		TransferHandler: transfers.NewHandler(logger, transferService),
		CleanupHandler:  cleanup.NewHandler(logger, cleanupService),
		JobHandler:      jobs.NewHandler(jobClient, inspector, logger),
		Metrics:         metrics,
	}
	var relay *notify.Relay
	if publisher != nil {
		relay = notify.NewRelay(publisher, logger)
		params.ChangeFeed = relay
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.NewRouter(params),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			logger.Info("starting change relay", slog.String("channel", publisher.Channel()))
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("change relay stopped", slog.Any("error", err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		return gctx.Err()
	})
	return g.Wait()
}
