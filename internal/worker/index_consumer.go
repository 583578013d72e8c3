package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"corpora/features/job"
	"corpora/internal/corpus"
	"corpora/internal/indexing"
	"corpora/internal/middleware"
)

const handlerName = "index-worker"

type IndexConsumer struct {
	indexer      Indexer
	jobs         JobSaver
	defaultBatch int
	maxAttempts  uint16
	timeout      time.Duration
}

func NewIndexConsumer(idx Indexer, jobs JobSaver, defaultBatch int) *IndexConsumer {
	return &IndexConsumer{
		indexer:      idx,
		jobs:         jobs,
		defaultBatch: defaultBatch,
		maxAttempts:  5,
		timeout:      10 * time.Minute,
	}
}

// HandleMessage runs one indexing request. Malformed messages are dropped.
// Provider and timeout failures are requeued until the attempt limit, after
// which they are parked in failed_jobs like any other failure.
func (h *IndexConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IndexPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithRunID(ctx, uuid.New().String())

	opts := indexing.Options{BatchSize: payload.BatchSize, Mode: payload.Mode}
	if opts.BatchSize == 0 {
		opts.BatchSize = h.defaultBatch
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	slog.InfoContext(ctx, "index message received", "units", len(payload.Units), "attempt", m.Attempts)
	p, err := h.indexer.Run(runCtx, payload.Units, opts)
	if err == nil {
		slog.InfoContext(ctx, "index message done",
			"added", p.NumAdded, "skipped", p.NumSkipped, "deleted", p.NumDeleted, "pending", p.Pending)
		return nil
	}

	if retryable(err) && m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "index run failed, requeueing", "error", err, "attempt", m.Attempts)
		return err
	}

	slog.ErrorContext(ctx, "index run failed", "error", err, "attempt", m.Attempts)
	failed := &job.Job{
		CorrelationID: correlationID,
		Handler:       handlerName,
		Payload:       json.RawMessage(m.Body),
		Error:         err.Error(),
		Retries:       int(m.Attempts),
	}
	if err := h.jobs.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return nil
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, corpus.ErrProvider) || errors.Is(err, context.DeadlineExceeded)
}
