package job

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpora/internal/config"
)

type slowPublisher struct {
	sleep     time.Duration
	LastTopic string
}

func (m *slowPublisher) Publish(topic string, body []byte) error {
	m.LastTopic = topic
	time.Sleep(m.sleep)
	return nil
}

type stubRepo struct {
	Repository
	deleted []string
}

func (m *stubRepo) Get(ctx context.Context, id string) (*Job, error) {
	return &Job{ID: id, Payload: []byte("{}")}, nil
}

func (m *stubRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *stubRepo) Count(ctx context.Context) (int, error) { return 10, nil }

func TestRetry_PublishTimeout(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, &slowPublisher{sleep: 200 * time.Millisecond}, slog.Default()).
		WithPublishTimeout(20 * time.Millisecond)

	err := service.Retry(context.Background(), "1")
	require.EqualError(t, err, "timeout waiting for NSQ publish")
	assert.Empty(t, repo.deleted)
}

func TestRetry_ContextCancellation(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo, &slowPublisher{sleep: 200 * time.Millisecond}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := service.Retry(ctx, "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, repo.deleted)
}

func TestRetry_UsesIndexTopic(t *testing.T) {
	repo := &stubRepo{}
	pub := &slowPublisher{}
	service := NewService(repo, pub, slog.Default())

	require.NoError(t, service.Retry(context.Background(), "1"))
	assert.Equal(t, config.TopicIndex, pub.LastTopic)
	assert.Equal(t, []string{"1"}, repo.deleted)
}

func TestService_Count(t *testing.T) {
	service := NewService(&stubRepo{}, nil, nil)
	count, err := service.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}
