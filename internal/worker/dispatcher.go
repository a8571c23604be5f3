package worker

import (
	"context"
	"fmt"

	"github.com/backend-burger/worker/internal/job"
	"github.com/backend-burger/worker/internal/queue"
)

// Handler processes payloads of a single job kind.
type Handler interface {
	// Kind is the envelope tag this handler is registered under.
	Kind() string
	// Handle performs the job's side effect. A returned error releases the
	// idempotency lease and lets the queue redeliver.
	Handle(ctx context.Context, j *job.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	K string
	F func(ctx context.Context, j *job.Job) error
}

func (h HandlerFunc) Kind() string                                 { return h.K }
func (h HandlerFunc) Handle(ctx context.Context, j *job.Job) error { return h.F(ctx, j) }

// Registry routes decoded jobs to handlers by kind. Routing is a table
// lookup; behavior lives entirely in the registered handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same kind twice is a programming
// error and fails loudly.
func (r *Registry) Register(h Handler) error {
	if _, exists := r.handlers[h.Kind()]; exists {
		return fmt.Errorf("handler already registered for kind %q", h.Kind())
	}
	r.handlers[h.Kind()] = h
	return nil
}

// MustRegister panics on duplicate registration; for wiring at startup.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Decode parses a raw message into a Job and verifies its kind is routable.
// Any failure is a job.DecodeError, which callers treat as poison.
func (r *Registry) Decode(raw queue.RawMessage) (*job.Job, error) {
	j, err := job.Decode(raw.Body, raw.ReceiveCount)
	if err != nil {
		return nil, err
	}
	if _, ok := r.handlers[j.Kind]; !ok {
		return nil, &job.DecodeError{Reason: fmt.Sprintf("unknown kind %q", j.Kind)}
	}
	return j, nil
}

// Dispatch routes a decoded job to its handler.
func (r *Registry) Dispatch(ctx context.Context, j *job.Job) error {
	h, ok := r.handlers[j.Kind]
	if !ok {
		// Decode guards this; reaching here means a caller skipped it.
		return &job.DecodeError{Reason: fmt.Sprintf("unknown kind %q", j.Kind)}
	}
	return h.Handle(ctx, j)
}
