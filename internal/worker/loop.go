// Package worker contains the polling loop that drives the whole pipeline:
// receive a batch, decode, coordinate idempotent execution, then acknowledge
// or leave each message for redelivery.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/backend-burger/worker/internal/idempotency"
	"github.com/backend-burger/worker/internal/job"
	"github.com/backend-burger/worker/internal/metrics"
	"github.com/backend-burger/worker/internal/queue"
)

// Options tune a Loop. Zero values are not usable; main fills these from the
// validated config.
type Options struct {
	BatchSize       int32
	PollWaitSeconds int32
	Concurrency     int
	MaxAttempts     int
	MaxPollFailures int
	StatsInterval   time.Duration
}

// Loop is the top-level scheduling construct. Multiple Loop instances (in one
// process or across replicas) are safe concurrently: all coordination goes
// through the idempotency coordinator's cache, never through Loop state.
type Loop struct {
	queue    *queue.Client
	registry *Registry
	coord    *idempotency.Coordinator
	rec      metrics.Recorder
	logger   zerolog.Logger
	opts     Options

	jobs chan queue.RawMessage
	wg   sync.WaitGroup
}

func NewLoop(q *queue.Client, reg *Registry, coord *idempotency.Coordinator, rec metrics.Recorder, logger zerolog.Logger, opts Options) *Loop {
	return &Loop{
		queue:    q,
		registry: reg,
		coord:    coord,
		rec:      rec,
		logger:   logger,
		opts:     opts,
		jobs:     make(chan queue.RawMessage, opts.Concurrency*2),
	}
}

// Run polls until ctx is cancelled, then drains in-flight jobs and returns
// nil. It returns an error only when the queue stays unreachable past the
// consecutive-failure ceiling; main treats that as process-level failure.
func (l *Loop) Run(ctx context.Context) error {
	// Shutdown must drain, so workers process with a context that survives
	// poll cancellation.
	procCtx := context.WithoutCancel(ctx)

	for i := 0; i < l.opts.Concurrency; i++ {
		l.wg.Add(1)
		go l.worker(procCtx, i)
	}

	if l.opts.StatsInterval > 0 {
		go l.statsLoop(ctx)
	}

	err := l.poll(ctx)

	close(l.jobs)
	l.wg.Wait()
	return err
}

func (l *Loop) poll(ctx context.Context) error {
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := l.queue.Receive(ctx, l.opts.BatchSize, l.opts.PollWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			consecutiveFailures++
			if consecutiveFailures >= l.opts.MaxPollFailures {
				return fmt.Errorf("queue unreachable after %d consecutive receive failures: %w", consecutiveFailures, err)
			}
			backoff := pollBackoff(consecutiveFailures)
			l.logger.Error().Err(err).
				Int("consecutive_failures", consecutiveFailures).
				Dur("backoff", backoff).
				Msg("failed to receive messages")
			sleepCtx(ctx, backoff)
			continue
		}
		consecutiveFailures = 0

		for _, m := range msgs {
			select {
			case l.jobs <- m:
			case <-ctx.Done():
				// Undelivered messages reappear after the visibility
				// timeout; nothing to clean up here.
				return nil
			}
		}
	}
}

func (l *Loop) worker(ctx context.Context, id int) {
	defer l.wg.Done()
	l.logger.Debug().Int("worker_id", id).Msg("worker started")

	for m := range l.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Handler panics are turned into failures (and the
					// lease released) inside the coordinator; this only
					// catches panics elsewhere on the processing path.
					// The message stays for redelivery.
					l.logger.Error().Interface("panic", r).Msg("worker recovered from panic")
				}
			}()
			l.process(ctx, m)
		}()
	}
	l.logger.Debug().Int("worker_id", id).Msg("worker stopping")
}

func (l *Loop) process(ctx context.Context, m queue.RawMessage) {
	j, err := l.registry.Decode(m)
	if err != nil {
		// Poison: this body will never parse, retrying forever would block
		// the queue. Acknowledge and drop.
		l.logger.Error().Err(err).
			Str("body", string(m.Body)).
			Msg("dropping poison message")
		l.rec.Inc(metrics.Poison)
		l.ack(ctx, m)
		return
	}

	logger := l.logger.With().
		Str("job_id", j.ID).
		Str("kind", j.Kind).
		Int("attempt", j.Attempt).
		Logger()

	if j.Attempt > l.opts.MaxAttempts {
		logger.Error().
			Str("body", string(m.Body)).
			Int("max_attempts", l.opts.MaxAttempts).
			Msg("dropping job after exhausting attempts")
		l.rec.Inc(metrics.DeadDropped)
		l.ack(ctx, m)
		return
	}

	outcome, err := l.coord.Execute(ctx, j, l.registry.Dispatch)
	switch outcome {
	case idempotency.OutcomeDone:
		if err != nil {
			// Handler succeeded but the done marker did not stick; the
			// dedup window is shorter than configured for this job.
			logger.Warn().Err(err).Msg("completed but done marker not persisted")
		} else {
			logger.Info().Msg("job completed")
		}
		l.rec.Inc(metrics.Processed)
		l.ack(ctx, m)

	case idempotency.OutcomeDuplicate:
		logger.Info().Msg("duplicate delivery of completed job")
		l.rec.Inc(metrics.Duplicates)
		l.ack(ctx, m)

	case idempotency.OutcomeBusy:
		if err != nil {
			logger.Warn().Err(err).Msg("cache unavailable, leaving message for redelivery")
		} else {
			logger.Debug().Msg("job in progress elsewhere, leaving message for redelivery")
		}

	case idempotency.OutcomeFailed:
		if job.IsDecodeError(err) {
			// Malformed payload surfaced inside the handler: retrying can
			// never succeed, so treat it as poison.
			logger.Error().Err(err).Str("body", string(m.Body)).Msg("dropping poison message")
			l.rec.Inc(metrics.Poison)
			l.ack(ctx, m)
			return
		}
		logger.Error().Err(err).Msg("handler failed, lease released for retry")
		l.rec.Inc(metrics.Failures)

	case idempotency.OutcomeTimeout:
		logger.Error().Err(err).Msg("handler timed out, lease left to expire")
		l.rec.Inc(metrics.Failures)
	}
}

func (l *Loop) ack(ctx context.Context, m queue.RawMessage) {
	if err := l.queue.Delete(ctx, m.ReceiptHandle); err != nil {
		l.logger.Error().Err(err).Msg("failed to delete message")
	}
}

func (l *Loop) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(l.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := l.queue.Stats(ctx)
			if err != nil {
				l.logger.Warn().Err(err).Msg("failed to fetch queue stats")
				continue
			}
			l.logger.Info().
				Int("available", stats.Available).
				Int("in_flight", stats.InFlight).
				Int("delayed", stats.Delayed).
				Msg("queue stats")
		case <-ctx.Done():
			return
		}
	}
}

func pollBackoff(failures int) time.Duration {
	if failures > 5 {
		return 30 * time.Second
	}
	return time.Second << uint(failures-1)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
