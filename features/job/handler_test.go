package job_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"corpora/features/job"
	"corpora/internal/config"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockRepo) List(ctx context.Context) ([]job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]job.Job), args.Error(1)
}
func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}
func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything).Return([]job.Job{{ID: "1", Handler: "index-worker"}}, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []job.Job      `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Meta["count"])
	assert.Equal(t, "index-worker", resp.Data[0].Handler)
}

func TestHandler_List_EmptyList(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything).Return(nil, nil)

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_List_ServiceError(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := job.NewHandler(job.NewService(mockRepo, nil, slog.Default()))

	mockRepo.On("List", mock.Anything).Return(nil, errors.New("database error"))

	req := httptest.NewRequest("GET", "/jobs/failed", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestHandler_Retry(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*MockRepo, *MockPublisher)
		wantStatus int
	}{
		{
			name: "republishes to index topic",
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: json.RawMessage(`{"units":[]}`)}, nil)
				p.On("Publish", config.TopicIndex, []byte(`{"units":[]}`)).Return(nil)
				r.On("Delete", mock.Anything, "job-1").Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "not found",
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "job-1").Return(nil, sql.ErrNoRows)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "invalid payload",
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: json.RawMessage(`{broken`)}, nil)
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "publish failure keeps job",
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: json.RawMessage(`{}`)}, nil)
				p.On("Publish", config.TopicIndex, mock.Anything).Return(errors.New("nsq error"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, pub := new(MockRepo), new(MockPublisher)
			tt.setup(repo, pub)
			handler := job.NewHandler(job.NewService(repo, pub, slog.Default()))

			req := httptest.NewRequest("POST", "/jobs/job-1/retry", nil)
			req.SetPathValue("id", "job-1")
			w := httptest.NewRecorder()
			handler.Retry(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			repo.AssertExpectations(t)
			pub.AssertExpectations(t)
			if tt.wantStatus != http.StatusOK {
				repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
			}
		})
	}
}
