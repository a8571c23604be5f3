// Package idempotency converts the queue's at-least-once delivery into
// effectively-once handler execution. The cache, not in-process memory, is the
// arbiter: the atomic SetIfAbsent claim is safe across worker replicas.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backend-burger/worker/internal/cache"
	"github.com/backend-burger/worker/internal/job"
)

// Processing states stored under the idempotency key.
const (
	StateInProgress = "in_progress"
	StateDone       = "done"
)

// KeyPrefix namespaces idempotency records away from other cache users
// (sessions, rate limits) sharing the same store.
const KeyPrefix = "idempotency:"

// Outcome describes how an execution attempt resolved.
type Outcome int

const (
	// OutcomeDone: this worker claimed the job and the handler succeeded.
	OutcomeDone Outcome = iota
	// OutcomeDuplicate: a done record exists; the work already happened.
	OutcomeDuplicate
	// OutcomeBusy: another worker holds the lease, or the cache was
	// unreachable. The message must not be acknowledged.
	OutcomeBusy
	// OutcomeFailed: this worker claimed the job and the handler failed.
	// The lease was released so a retry can re-acquire immediately.
	OutcomeFailed
	// OutcomeTimeout: the handler exceeded its deadline. The lease is left
	// to expire naturally so a mid-flight straggler cannot be shadowed by
	// an immediate duplicate.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBusy:
		return "busy"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Coordinator wraps handler execution in a cache-backed lease.
type Coordinator struct {
	store      cache.Store
	leaseTTL   time.Duration
	doneTTL    time.Duration
	jobTimeout time.Duration
}

// NewCoordinator returns a Coordinator. leaseTTL must exceed jobTimeout so a
// live execution never loses its claim.
func NewCoordinator(store cache.Store, leaseTTL, doneTTL, jobTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:      store,
		leaseTTL:   leaseTTL,
		doneTTL:    doneTTL,
		jobTimeout: jobTimeout,
	}
}

// Key returns the cache key for a job id.
func Key(jobID string) string { return KeyPrefix + jobID }

// Execute runs fn at most once per job id within the done-TTL window.
//
// The claim is a single atomic SetIfAbsent; there is deliberately no
// get-then-set anywhere on this path.
func (c *Coordinator) Execute(ctx context.Context, j *job.Job, fn func(ctx context.Context, j *job.Job) error) (Outcome, error) {
	key := Key(j.ID)

	claimed, err := c.store.SetIfAbsent(ctx, key, StateInProgress, c.leaseTTL)
	if err != nil {
		return OutcomeBusy, fmt.Errorf("claim lease for %s: %w", j.ID, err)
	}

	if !claimed {
		state, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return OutcomeBusy, fmt.Errorf("inspect lease for %s: %w", j.ID, err)
		}
		if ok && state == StateDone {
			return OutcomeDuplicate, nil
		}
		// In progress elsewhere, or the record vanished between the two
		// calls. Either way the visibility timeout handles the retry.
		return OutcomeBusy, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()

	err = runHandler(execCtx, j, fn)
	if err == nil {
		if setErr := c.store.Set(ctx, key, StateDone, c.doneTTL); setErr != nil {
			// The side effect happened; losing the done marker only
			// shrinks the dedup window. Surface it but stay Done.
			return OutcomeDone, fmt.Errorf("mark done for %s: %w", j.ID, setErr)
		}
		return OutcomeDone, nil
	}

	if errors.Is(err, context.DeadlineExceeded) || execCtx.Err() != nil {
		// Abandoned execution: leave the lease to expire on its own.
		return OutcomeTimeout, err
	}

	if delErr := c.store.Delete(ctx, key); delErr != nil {
		return OutcomeFailed, errors.Join(err, fmt.Errorf("release lease for %s: %w", j.ID, delErr))
	}
	return OutcomeFailed, err
}

// runHandler invokes fn, converting a panic into an ordinary handler error so
// a panicking handler still releases its lease instead of pinning it until the
// lease TTL expires.
func runHandler(ctx context.Context, j *job.Job, fn func(ctx context.Context, j *job.Job) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic for %s: %v", j.ID, r)
		}
	}()
	return fn(ctx, j)
}
