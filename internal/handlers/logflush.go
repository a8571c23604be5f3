// Package handlers holds the production job handlers registered with the
// dispatcher.
package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/backend-burger/worker/internal/job"
	"github.com/backend-burger/worker/internal/sink"
)

// KindFlushLogs is the envelope tag for log-flush jobs.
const KindFlushLogs = "flush_logs"

// FlushLogsPayload is the payload schema for KindFlushLogs.
type FlushLogsPayload struct {
	// Source names the producer of the lines (service or instance id).
	Source string `json:"source" validate:"required"`
	// Lines are the accumulated log lines to persist.
	Lines []string `json:"lines" validate:"required,min=1"`
}

// LogFlush writes a batch of accumulated application log lines to durable
// object storage as a single write-once artifact.
type LogFlush struct {
	store    sink.ObjectStore
	folder   string
	validate *validatorv10.Validate
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

func NewLogFlush(store sink.ObjectStore, folder string, logger zerolog.Logger) *LogFlush {
	return &LogFlush{
		store:    store,
		folder:   folder,
		validate: validatorv10.New(),
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func (h *LogFlush) Kind() string { return KindFlushLogs }

func (h *LogFlush) Handle(ctx context.Context, j *job.Job) error {
	var p FlushLogsPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return &job.DecodeError{Reason: "malformed flush_logs payload", Err: err}
	}
	if err := h.validate.Struct(&p); err != nil {
		return &job.DecodeError{Reason: "invalid flush_logs payload", Err: err}
	}

	generatedAt := h.nowFunc()
	key := sink.ArtifactKey(h.folder, generatedAt)
	content := strings.Join(p.Lines, "\n") + "\n"

	if err := h.store.Put(ctx, key, []byte(content)); err != nil {
		return err
	}

	h.logger.Info().
		Str("job_id", j.ID).
		Str("source", p.Source).
		Str("key", key).
		Int("lines", len(p.Lines)).
		Msg("flushed log artifact")
	return nil
}
