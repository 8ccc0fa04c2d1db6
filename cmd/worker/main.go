package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"examgate/internal/config"
	"examgate/internal/observability"
	"examgate/internal/probe"
	"examgate/internal/queue"
	"examgate/internal/store"
	"examgate/internal/verification"
)

// Worker consumes attempt events and tracks repeated rejections.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "examgate-worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	if cfg.QueueBackend != "redis" {
		logger.Fatal().Str("queue_backend", cfg.QueueBackend).Msg("worker needs the redis queue; the api consumes in-memory events itself")
	}
	observability.RegisterMetrics()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis config invalid")
	}
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn().Msg("redis not reachable yet; consumer will retry")
	}

	q := queue.NewRedisQueue(redisClient.Client, "")
	monitor := probe.NewMonitor(redisClient.Client, cfg.ProbeWindow, cfg.ProbeLimit, logger)
	consumer := probe.NewConsumer(q, verification.NewRepository(db.Client), monitor, logger)

	logger.Info().Msg("worker started")
	if err := consumer.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker failed")
	}
	logger.Info().Msg("worker stopped")
}
