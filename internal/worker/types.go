package worker

import (
	"context"

	"corpora/features/job"
	"corpora/internal/corpus"
	"corpora/internal/indexing"
)

// IndexPayload is the body of a message on the index topic.
type IndexPayload struct {
	Units         []corpus.ContentUnit `json:"units"`
	Mode          corpus.Mode          `json:"mode,omitempty"`
	BatchSize     int                  `json:"batch_size,omitempty"`
	CorrelationID string               `json:"correlation_id,omitempty"`
}

type Indexer interface {
	Run(ctx context.Context, units []corpus.ContentUnit, opts indexing.Options) (indexing.Progress, error)
}

type JobSaver interface {
	Save(ctx context.Context, j *job.Job) error
}
