package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/postfeed/internal/config"
	"github.com/syntrixbase/postfeed/internal/feed"
	"github.com/syntrixbase/postfeed/internal/logging"
	mongostore "github.com/syntrixbase/postfeed/internal/storage/mongo"
	redisstore "github.com/syntrixbase/postfeed/internal/storage/redis"
)

func main() {
	configDir := flag.String("config", "config", "Directory holding config.yml and config.local.yml")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.Initialize(cfg.Logging)
	if err != nil {
		slog.Error("failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Shutdown() }()

	logger.Info("postfeed starting", "pipeline", cfg.Feed.Name, "collection", cfg.Feed.Source.Collection)

	// 2. Connect storage
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	mongoProvider, err := mongostore.NewProvider(initCtx, cfg.Storage.Mongo)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}

	rdb, err := redisstore.NewClient(initCtx, cfg.Storage.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		_ = mongoProvider.Close(context.Background())
		os.Exit(1)
	}

	deps := feed.Dependencies{
		Database: mongoProvider.Database(),
		Redis:    rdb,
		Logger:   logger,
	}

	var notifier *feed.NotifierConnection
	if cfg.Feed.Notify.Enabled() {
		notifier, err = feed.ConnectNotifier(initCtx, cfg.Feed.Notify, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			_ = rdb.Close()
			_ = mongoProvider.Close(context.Background())
			os.Exit(1)
		}
		deps.Notifier = notifier
	}

	// 3. Build pipeline
	svc, err := feed.New(cfg.Feed, deps)
	if err != nil {
		logger.Error("failed to create feed pipeline", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := feed.StartHealthServer(ctx, cfg.Feed.Health.Address, svc.Handler(), logger); err != nil {
			logger.Error("health server error", "error", err)
		}
	}()

	// 4. Run until signalled
	if err := svc.Run(ctx); err != nil {
		logger.Error("feed pipeline stopped with error", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("failed to close NATS connection", "error", err)
		}
	}
	if err := rdb.Close(); err != nil {
		logger.Error("failed to close Redis client", "error", err)
	}
	if err := mongoProvider.Close(shutdownCtx); err != nil {
		logger.Error("failed to close MongoDB client", "error", err)
	}

	logger.Info("postfeed stopped")
}
