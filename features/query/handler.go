package query

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"corpora/internal/corpus"
	"corpora/internal/middleware"
	"corpora/internal/retrieval"
	"corpora/internal/stream"
)

type Asker interface {
	Ask(ctx context.Context, query string, stop *stream.StopFlag) iter.Seq2[stream.Event, error]
}

type Searcher interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]corpus.ScoredUnit, error)
}

type Handler struct {
	asker  Asker
	search Searcher
	runs   *stream.Runs
}

func NewHandler(a Asker, s Searcher, runs *stream.Runs) *Handler {
	return &Handler{asker: a, search: s, runs: runs}
}

type Request struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

func decode(r *http.Request) (*Request, error) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: invalid request body: %w", corpus.ErrUserInput, err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be blank", corpus.ErrUserInput)
	}
	return &req, nil
}

// Ask streams progress events over SSE. The run id is returned in the
// X-Run-ID header so the client can stop the run.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		middleware.WriteDomainError(ctx, w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteError(ctx, w, "STREAMING_UNSUPPORTED", "streaming unsupported", http.StatusInternalServerError)
		return
	}

	runID := uuid.New().String()
	ctx = middleware.WithRunID(ctx, runID)
	stop, release := h.runs.Start(runID)
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Run-ID", runID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.InfoContext(ctx, "query run started")

	for ev, err := range h.asker.Ask(ctx, req.Query, stop) {
		if err != nil {
			slog.ErrorContext(ctx, "query run failed", "error", err)
			code, _ := middleware.StatusFor(err)
			writeEvent(w, "error", map[string]string{"code": code, "message": err.Error()})
			flusher.Flush()
			return
		}
		if !writeEvent(w, "progress", ev) {
			slog.WarnContext(ctx, "client went away during query run")
			return
		}
		flusher.Flush()
	}

	writeEvent(w, "done", map[string]string{"run_id": runID})
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err == nil
}

// Stop requests a cooperative stop of a running query.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if !h.runs.Stop(id) {
		middleware.WriteError(ctx, w, "NOT_FOUND", "run not found", http.StatusNotFound)
		return
	}
	slog.InfoContext(ctx, "query run stop requested", "run_id", id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"run_id": id, "status": "stopping"}}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Search returns the post-processed retrieval results without generation.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decode(r)
	if err != nil {
		middleware.WriteDomainError(ctx, w, err)
		return
	}
	results, err := h.search.Search(ctx, req.Query, &retrieval.SearchOptions{Limit: req.Limit})
	if err != nil {
		middleware.WriteDomainError(ctx, w, err)
		return
	}
	if results == nil {
		results = []corpus.ScoredUnit{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": results}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
