package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breakout-trading-bot/config"
	"breakout-trading-bot/internal/api"
	"breakout-trading-bot/internal/database"
	"breakout-trading-bot/internal/engine"
	"breakout-trading-bot/internal/events"
	"breakout-trading-bot/internal/executor"
	"breakout-trading-bot/internal/feed"
	"breakout-trading-bot/internal/logging"
	"breakout-trading-bot/internal/store"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("failed to load config", "error", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "main",
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
	})
	logging.SetDefault(logger)

	logger.Info("starting breakout trading bot",
		"symbol", cfg.EngineConfig.TradedSymbol,
		"reset_time", cfg.EngineConfig.ResetTime,
		"timezone", cfg.EngineConfig.Timezone)

	eventBus := events.NewEventBus()

	// Snapshot persistence: Redis with in-memory fallback
	redisClient := store.NewRedisClient(cfg.RedisConfig)
	snapshotStore := store.NewRedisSnapshotStore(redisClient, logger)

	// Closed-trade archive is optional
	var archive engine.TradeArchiver
	var db *database.DB
	if cfg.DatabaseConfig.Enabled && cfg.DatabaseConfig.URL != "" {
		db, err = database.NewDB(context.Background(), cfg.DatabaseConfig.URL)
		if err != nil {
			logger.Fatal("failed to connect to database", "error", err)
		}
		archive = database.NewRepository(db)
		logger.Info("trade archive enabled")
	} else {
		logger.Info("trade archive disabled, closed trades kept in memory only")
	}

	// Order execution is optional; without it promotions stay internal
	var notifier engine.ExecutionNotifier
	if cfg.ExecutorConfig.Enabled {
		zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
		notifier = executor.NewVenueClient(cfg.ExecutorConfig, zl)
		logger.Info("order executor enabled")
	} else {
		logger.Info("order executor disabled, live trades are tracked only")
	}

	eng, err := engine.NewEngine(cfg.EngineConfig, logger, eventBus, notifier, snapshotStore, archive)
	if err != nil {
		logger.Fatal("failed to create engine", "error", err)
	}
	if err := eng.Start(); err != nil {
		logger.Fatal("failed to start engine", "error", err)
	}

	var tickFeed *feed.Feed
	if cfg.FeedConfig.Enabled && len(cfg.FeedConfig.URLs) > 0 {
		tickFeed = feed.NewFeed(cfg.FeedConfig.URLs, eng, logger)
		tickFeed.Start()
	} else {
		logger.Info("tick feed disabled, prices arrive via webhook only")
	}

	server := api.NewServer(cfg.ServerConfig, eng, eventBus, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("api server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", "error", err)
	}
	if tickFeed != nil {
		tickFeed.Stop()
	}
	eng.Stop()
	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("shutdown complete")
}
