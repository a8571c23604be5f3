package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Idempotency backends selectable via IDEMPOTENCY_BACKEND.
const (
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config is the full environment surface of the worker. Every field is read
// once at startup; a missing or malformed value aborts the process before any
// polling begins.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AWSRegion string `env:"AWS_REGION" envDefault:"us-east-1"`
	QueueName string `env:"SQS_QUEUE_NAME,notEmpty"`

	BucketName string `env:"S3_BUCKET_NAME,notEmpty"`
	LogsFolder string `env:"S3_LOGS_FOLDER,notEmpty"`

	RedisHost     string `env:"REDIS_HOST,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	IdempotencyBackend string `env:"IDEMPOTENCY_BACKEND" envDefault:"redis"`
	IdempotencyTable   string `env:"IDEMPOTENCY_TABLE"`

	PollWaitSeconds   int           `env:"POLL_WAIT_SECONDS" envDefault:"20"`
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"10"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	LeaseTTL          time.Duration `env:"LEASE_TTL" envDefault:"5m"`
	DoneTTL           time.Duration `env:"DONE_TTL" envDefault:"336h"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"2m"`
	MaxPollFailures   int           `env:"MAX_POLL_FAILURES" envDefault:"10"`

	HealthAddr string `env:"HEALTH_ADDR" envDefault:":8081"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	if c.PollWaitSeconds < 0 || c.PollWaitSeconds > 20 {
		return fmt.Errorf("POLL_WAIT_SECONDS must be between 0 and 20, got %d", c.PollWaitSeconds)
	}
	if c.BatchSize < 1 || c.BatchSize > 10 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 10, got %d", c.BatchSize)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.MaxPollFailures < 1 {
		return fmt.Errorf("MAX_POLL_FAILURES must be at least 1, got %d", c.MaxPollFailures)
	}
	if c.LeaseTTL <= 0 || c.DoneTTL <= 0 || c.JobTimeout <= 0 {
		return errors.New("LEASE_TTL, DONE_TTL and JOB_TIMEOUT must be positive durations")
	}
	// The lease must outlive any single execution, otherwise a slow handler
	// loses its claim mid-flight and a duplicate can sneak in.
	if c.JobTimeout >= c.LeaseTTL {
		return fmt.Errorf("JOB_TIMEOUT (%s) must be shorter than LEASE_TTL (%s)", c.JobTimeout, c.LeaseTTL)
	}
	switch c.IdempotencyBackend {
	case BackendRedis, BackendMemory:
	case BackendDynamoDB:
		if c.IdempotencyTable == "" {
			return errors.New("IDEMPOTENCY_TABLE is required when IDEMPOTENCY_BACKEND=dynamodb")
		}
	default:
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be one of redis, dynamodb, memory; got %q", c.IdempotencyBackend)
	}
	return nil
}
