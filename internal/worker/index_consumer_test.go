package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"corpora/features/job"
	"corpora/internal/corpus"
	"corpora/internal/indexing"
	"corpora/internal/middleware"
	"corpora/internal/worker"
)

type MockIndexer struct{ mock.Mock }

func (m *MockIndexer) Run(ctx context.Context, units []corpus.ContentUnit, opts indexing.Options) (indexing.Progress, error) {
	args := m.Called(ctx, units, opts)
	return args.Get(0).(indexing.Progress), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func message(t *testing.T, p worker.IndexPayload, attempts uint16) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return &nsq.Message{Body: body, Attempts: attempts}
}

func TestIndexConsumer_Success(t *testing.T) {
	idx, jobs := new(MockIndexer), new(MockJobRepo)
	units := []corpus.ContentUnit{corpus.NewContentUnit("a.md", 0, nil, "text")}

	idx.On("Run",
		mock.MatchedBy(func(ctx context.Context) bool { return middleware.GetCorrelationID(ctx) == "corr-1" }),
		units,
		indexing.Options{BatchSize: 50, Mode: corpus.ModeByFile},
	).Return(indexing.Progress{NumAdded: 1, Final: true}, nil)

	c := worker.NewIndexConsumer(idx, jobs, 50)
	err := c.HandleMessage(message(t, worker.IndexPayload{Units: units, Mode: corpus.ModeByFile, CorrelationID: "corr-1"}, 1))

	assert.NoError(t, err)
	idx.AssertExpectations(t)
	jobs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestIndexConsumer_PoisonPill(t *testing.T) {
	idx, jobs := new(MockIndexer), new(MockJobRepo)
	c := worker.NewIndexConsumer(idx, jobs, 10)

	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: []byte("invalid json")}))
	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: nil}))
	idx.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestIndexConsumer_ProviderErrorIsRequeued(t *testing.T) {
	idx, jobs := new(MockIndexer), new(MockJobRepo)
	provErr := fmt.Errorf("%w: quota", corpus.ErrProvider)
	idx.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(indexing.Progress{}, provErr)

	c := worker.NewIndexConsumer(idx, jobs, 10)
	err := c.HandleMessage(message(t, worker.IndexPayload{BatchSize: 5}, 1))

	assert.ErrorIs(t, err, corpus.ErrProvider)
	jobs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestIndexConsumer_ProviderErrorParkedAfterLastAttempt(t *testing.T) {
	idx, jobs := new(MockIndexer), new(MockJobRepo)
	idx.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(indexing.Progress{}, fmt.Errorf("%w: quota", corpus.ErrProvider))
	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.Handler == "index-worker" && j.Retries == 5 && j.CorrelationID == "corr-9"
	})).Return(nil)

	c := worker.NewIndexConsumer(idx, jobs, 10)
	err := c.HandleMessage(message(t, worker.IndexPayload{CorrelationID: "corr-9"}, 5))

	assert.NoError(t, err)
	jobs.AssertExpectations(t)
}

func TestIndexConsumer_ConfigurationErrorIsParked(t *testing.T) {
	idx, jobs := new(MockIndexer), new(MockJobRepo)
	idx.On("Run", mock.Anything, mock.Anything, indexing.Options{BatchSize: 10, Mode: "weekly"}).
		Return(indexing.Progress{}, fmt.Errorf("%w: unknown indexing mode", corpus.ErrConfiguration))

	var saved *job.Job
	jobs.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*job.Job)
	}).Return(nil)

	c := worker.NewIndexConsumer(idx, jobs, 10)
	msg := message(t, worker.IndexPayload{Mode: "weekly"}, 1)
	assert.NoError(t, c.HandleMessage(msg))

	require.NotNil(t, saved)
	assert.JSONEq(t, string(msg.Body), string(saved.Payload))
	assert.Contains(t, saved.Error, "unknown indexing mode")
	assert.NotEmpty(t, saved.CorrelationID, "a correlation id is generated when missing")
}

func TestIndexConsumer_SaveFailureStillAcks(t *testing.T) {
	idx, jobs := new(MockIndexer), new(MockJobRepo)
	idx.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(indexing.Progress{}, errors.New("ledger down"))
	jobs.On("Save", mock.Anything, mock.Anything).Return(errors.New("also down"))

	c := worker.NewIndexConsumer(idx, jobs, 10)
	assert.NoError(t, c.HandleMessage(message(t, worker.IndexPayload{}, 1)))
}
