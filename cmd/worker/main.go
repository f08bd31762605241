package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"imagedrop/internal/cache"
	"imagedrop/internal/config"
	"imagedrop/internal/database"
	"imagedrop/internal/ids"
	"imagedrop/internal/log"
	"imagedrop/internal/queue"
	"imagedrop/internal/repository"
	"imagedrop/internal/storage"
	"imagedrop/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "worker").Logger()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if !cfg.QueueEnabled() {
		logger.Fatal().Msg("redis address is required for the worker (IMAGEDROP_REDIS_ADDR)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	blobs, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init blob store")
	}
	if err := blobs.Ensure(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare blob store")
	}

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	consumerName := cfg.Worker.Consumer
	if consumerName == "" {
		consumerName = "reaper-" + ids.Sortable()
	}

	processor := tasks.NewProcessor(repository.NewImageRepository(dbPool), blobs, cfg.Worker.OrphanGrace, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Worker.Stream,
		cfg.Worker.Group,
		consumerName,
		cfg.Worker.ClaimInterval,
		logger,
		processor,
	)

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		return
	}
	logger.Info().Msg("worker exited cleanly")
}
