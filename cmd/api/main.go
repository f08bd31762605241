package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"imagedrop/internal/cache"
	"imagedrop/internal/config"
	"imagedrop/internal/database"
	"imagedrop/internal/handlers"
	"imagedrop/internal/jobs"
	"imagedrop/internal/log"
	"imagedrop/internal/queue"
	"imagedrop/internal/repository"
	"imagedrop/internal/server"
	"imagedrop/internal/service"
	"imagedrop/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.Migrate(ctx, dbPool); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}

	blobs, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init blob store")
	}
	if err := blobs.Ensure(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare blob store")
	}

	checks := []handlers.HealthCheck{
		{Name: "database", Ping: dbPool.Ping},
		{Name: "storage", Ping: blobs.Ping},
	}

	var (
		redisClient *redis.Client
		scheduler   *jobs.Scheduler
		orphans     service.OrphanReporter
	)
	if cfg.QueueEnabled() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		producer := queue.NewProducer(redisClient, cfg.Worker.Stream)
		orphans = producer
		scheduler = jobs.NewScheduler(producer, cfg.Worker.SweepSchedule, logger)
		checks = append(checks, handlers.HealthCheck{Name: "cache", Ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	} else {
		logger.Warn().Msg("redis not configured; orphaned blobs will only be logged")
	}

	images := service.NewImageService(repository.NewImageRepository(dbPool), blobs, orphans, logger)
	handlerSet := handlers.NewHandlerSet(logger, cfg, images, checks...)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	if scheduler != nil {
		if err := scheduler.Start(); err != nil {
			logger.Error().Err(err).Msg("scheduler start failed")
		}
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn().Msg("sweep enqueue still running at shutdown")
		}
	}

	db.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
