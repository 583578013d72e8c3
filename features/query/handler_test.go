package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"corpora/internal/corpus"
	"corpora/internal/middleware"
	"corpora/internal/retrieval"
	"corpora/internal/stream"
)

type fakeAsker struct {
	events []stream.Event
	err    error

	runID string
	query string
}

func (f *fakeAsker) Ask(ctx context.Context, query string, stop *stream.StopFlag) iter.Seq2[stream.Event, error] {
	f.query = query
	f.runID = middleware.GetRunID(ctx)
	return func(yield func(stream.Event, error) bool) {
		for _, ev := range f.events {
			if !yield(ev, nil) {
				return
			}
		}
		if f.err != nil {
			yield(stream.Event{}, f.err)
		}
	}
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]corpus.ScoredUnit, error) {
	args := m.Called(ctx, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]corpus.ScoredUnit), args.Error(1)
}

func TestAsk_StreamsEvents(t *testing.T) {
	asker := &fakeAsker{events: []stream.Event{
		{Status: stream.StatusStartup},
		{Status: stream.StatusRetrieving},
		{Status: stream.StatusRetrieving, Content: 2},
		{Status: stream.StatusGenerating, Content: "Hello"},
	}}
	runs := stream.NewRuns()
	h := NewHandler(asker, nil, runs)

	w := httptest.NewRecorder()
	h.Ask(w, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"what?"}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	runID := w.Header().Get("X-Run-ID")
	require.NotEmpty(t, runID)
	assert.Equal(t, runID, asker.runID)
	assert.Equal(t, "what?", asker.query)
	assert.Equal(t, 0, runs.Active())

	want := "event: progress\ndata: {\"status\":\"startup\"}\n\n" +
		"event: progress\ndata: {\"status\":\"retrieving\"}\n\n" +
		"event: progress\ndata: {\"status\":\"retrieving\",\"content\":2}\n\n" +
		"event: progress\ndata: {\"status\":\"generating\",\"content\":\"Hello\"}\n\n" +
		"event: done\ndata: {\"run_id\":\"" + runID + "\"}\n\n"
	assert.Equal(t, want, w.Body.String())
}

func TestAsk_ErrorEvent(t *testing.T) {
	asker := &fakeAsker{
		events: []stream.Event{{Status: stream.StatusStartup}},
		err:    fmt.Errorf("generate: %w", corpus.ErrProvider),
	}
	h := NewHandler(asker, nil, stream.NewRuns())

	w := httptest.NewRecorder()
	h.Ask(w, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"q"}`)))

	body := w.Body.String()
	assert.Contains(t, body, "event: error\ndata: {\"code\":\"PROVIDER_ERROR\"")
	assert.NotContains(t, body, "event: done")
}

func TestAsk_BlankQuery(t *testing.T) {
	h := NewHandler(&fakeAsker{}, nil, stream.NewRuns())

	w := httptest.NewRecorder()
	h.Ask(w, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"  "}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")
	assert.Empty(t, w.Header().Get("X-Run-ID"))
}

func TestStop(t *testing.T) {
	runs := stream.NewRuns()
	flag, release := runs.Start("run-1")
	defer release()
	h := NewHandler(&fakeAsker{}, nil, runs)

	t.Run("in flight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/query/run-1/stop", nil)
		req.SetPathValue("id", "run-1")
		w := httptest.NewRecorder()
		h.Stop(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.True(t, flag.Stopped())
	})

	t.Run("unknown", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/query/nope/stop", nil)
		req.SetPathValue("id", "nope")
		w := httptest.NewRecorder()
		h.Stop(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSearch(t *testing.T) {
	limit := 2
	results := []corpus.ScoredUnit{
		{Unit: corpus.NewContentUnit("a.md", 0, nil, "alpha"), Score: 0.9},
	}

	t.Run("success", func(t *testing.T) {
		s := new(MockSearcher)
		s.On("Search", mock.Anything, "alpha", &retrieval.SearchOptions{Limit: &limit}).Return(results, nil)
		h := NewHandler(nil, s, stream.NewRuns())

		w := httptest.NewRecorder()
		h.Search(w, httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"alpha","limit":2}`)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"source_path":"a.md"`)
		s.AssertExpectations(t)
	})

	t.Run("no results", func(t *testing.T) {
		s := new(MockSearcher)
		s.On("Search", mock.Anything, "alpha", mock.Anything).Return(nil, nil)
		h := NewHandler(nil, s, stream.NewRuns())

		w := httptest.NewRecorder()
		h.Search(w, httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"alpha"}`)))

		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		s := new(MockSearcher)
		s.On("Search", mock.Anything, "alpha", mock.Anything).Return(nil, errors.New("boom"))
		h := NewHandler(nil, s, stream.NewRuns())

		w := httptest.NewRecorder()
		h.Search(w, httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"alpha"}`)))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
