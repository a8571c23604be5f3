package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	internalaws "github.com/backend-burger/worker/internal/aws"
	"github.com/backend-burger/worker/internal/cache"
	"github.com/backend-burger/worker/internal/config"
	"github.com/backend-burger/worker/internal/handlers"
	"github.com/backend-burger/worker/internal/health"
	"github.com/backend-burger/worker/internal/idempotency"
	"github.com/backend-burger/worker/internal/metrics"
	"github.com/backend-burger/worker/internal/queue"
	"github.com/backend-burger/worker/internal/sink"
	"github.com/backend-burger/worker/internal/worker"
)

const metricsNamespace = "BackendBurger/Worker"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := internalaws.NewClients(ctx)
	if err != nil {
		return fmt.Errorf("init aws clients: %w", err)
	}

	// Queue URL resolution and the cache ping double as boot-time
	// reachability checks; either failing aborts before any polling.
	q, err := queue.New(ctx, clients.SQS, cfg.QueueName)
	if err != nil {
		return err
	}

	store, err := newCacheStore(ctx, cfg, clients)
	if err != nil {
		return err
	}
	defer store.Close()

	coord := idempotency.NewCoordinator(store, cfg.LeaseTTL, cfg.DoneTTL, cfg.JobTimeout)

	objects := sink.NewS3Store(clients.S3, cfg.BucketName)

	registry := worker.NewRegistry()
	registry.MustRegister(handlers.NewLogFlush(objects, cfg.LogsFolder, logger))

	recorder := metrics.NewCloudWatchRecorder(clients.CloudWatch, metricsNamespace, time.Minute, logger)
	go recorder.Run(ctx)

	healthSrv := health.NewServer(cfg.HealthAddr, logger)
	healthSrv.Start()
	defer healthSrv.Shutdown(context.Background())

	loop := worker.NewLoop(q, registry, coord, recorder, logger, worker.Options{
		BatchSize:       int32(cfg.BatchSize),
		PollWaitSeconds: int32(cfg.PollWaitSeconds),
		Concurrency:     cfg.WorkerConcurrency,
		MaxAttempts:     cfg.MaxAttempts,
		MaxPollFailures: cfg.MaxPollFailures,
		StatsInterval:   time.Minute,
	})

	logger.Info().
		Str("queue", cfg.QueueName).
		Str("backend", cfg.IdempotencyBackend).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("worker started")

	if err := loop.Run(ctx); err != nil {
		return err
	}

	logger.Info().Msg("worker drained and stopped")
	return nil
}

func newCacheStore(ctx context.Context, cfg *config.Config, clients *internalaws.Clients) (cache.Store, error) {
	switch cfg.IdempotencyBackend {
	case config.BackendRedis:
		return cache.NewRedisStore(ctx, cfg.RedisHost, cfg.RedisPassword)
	case config.BackendDynamoDB:
		return cache.NewDynamoStore(clients.DynamoDB, cfg.IdempotencyTable), nil
	case config.BackendMemory:
		return cache.NewMemoryStore(), nil
	default:
		// config.Validate guards this
		return nil, fmt.Errorf("unsupported idempotency backend %q", cfg.IdempotencyBackend)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.AppEnv == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
