package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Job is one unit of deferred work pulled off the queue. ID doubles as the
// idempotency key and is stable across redeliveries of the same logical job.
type Job struct {
	ID         string          `json:"id" validate:"required"`
	Kind       string          `json:"kind" validate:"required"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at,omitempty"`

	// Attempt counts deliveries, starting at 1. It comes from the queue's
	// approximate receive count, not the message body.
	Attempt int `json:"-"`
}

// DecodeError marks a message as poison: it can never be processed no matter
// how often it is redelivered, so the loop acknowledges and drops it.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode job: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode job: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

var validate = validatorv10.New()

// Decode parses a raw queue message body into a Job and validates the
// envelope shape. Any failure is a DecodeError.
func Decode(body []byte, attempt int) (*Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, &DecodeError{Reason: "malformed body", Err: err}
	}
	if err := validate.Struct(&j); err != nil {
		return nil, &DecodeError{Reason: "invalid envelope", Err: err}
	}
	if attempt < 1 {
		attempt = 1
	}
	j.Attempt = attempt
	return &j, nil
}

// Encode serializes a Job into a queue message body.
func (j *Job) Encode() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	return b, nil
}
