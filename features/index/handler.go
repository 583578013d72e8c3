package index

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"corpora/internal/config"
	"corpora/internal/corpus"
	"corpora/internal/indexing"
	"corpora/internal/middleware"
	"corpora/internal/worker"
)

type Indexer interface {
	Index(ctx context.Context, units []corpus.ContentUnit, opts indexing.Options) iter.Seq2[indexing.Progress, error]
	Reconcile(ctx context.Context) (int, error)
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type Handler struct {
	indexer      Indexer
	pub          Publisher
	defaultBatch int
}

func NewHandler(idx Indexer, pub Publisher, defaultBatch int) *Handler {
	return &Handler{indexer: idx, pub: pub, defaultBatch: defaultBatch}
}

type Request struct {
	Units     []corpus.ContentUnit `json:"units"`
	Mode      corpus.Mode          `json:"mode"`
	BatchSize int                  `json:"batch_size"`
}

// decode fills in missing unit ids and defaults and rejects ids that do
// not match their unit. Units without a source path
// are rejected since stale scoping depends on it.
func (h *Handler) decode(r *http.Request) (*Request, error) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: invalid request body: %w", corpus.ErrUserInput, err)
	}
	mode, err := corpus.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	req.Mode = mode
	if req.BatchSize == 0 {
		req.BatchSize = h.defaultBatch
	}
	for i := range req.Units {
		u := &req.Units[i]
		if strings.TrimSpace(u.SourcePath) == "" {
			return nil, fmt.Errorf("%w: unit %d has no source_path", corpus.ErrUserInput, i)
		}
		if err := u.ResolveID(); err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
	}
	return &req, nil
}

// Index streams one NDJSON progress line per committed batch. With
// ?async=true the request is queued instead and answered with 202.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.decode(r)
	if err != nil {
		middleware.WriteDomainError(ctx, w, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(ctx, w, req)
		return
	}

	slog.InfoContext(ctx, "indexing request", "units", len(req.Units), "mode", req.Mode, "batch_size", req.BatchSize)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false
	for p, err := range h.indexer.Index(ctx, req.Units, indexing.Options{BatchSize: req.BatchSize, Mode: req.Mode}) {
		if err != nil {
			slog.ErrorContext(ctx, "indexing failed", "error", err)
			if !started {
				middleware.WriteDomainError(ctx, w, err)
				return
			}
			code, _ := middleware.StatusFor(err)
			_ = enc.Encode(map[string]interface{}{"error": map[string]string{"code": code, "message": err.Error()}})
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(p); err != nil {
			slog.WarnContext(ctx, "client went away during indexing", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *Handler) enqueue(ctx context.Context, w http.ResponseWriter, req *Request) {
	if h.pub == nil {
		middleware.WriteError(ctx, w, "ASYNC_DISABLED", "asynchronous indexing is not configured", http.StatusServiceUnavailable)
		return
	}
	body, err := json.Marshal(worker.IndexPayload{
		Units:         req.Units,
		Mode:          req.Mode,
		BatchSize:     req.BatchSize,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		middleware.WriteDomainError(ctx, w, err)
		return
	}
	if err := h.pub.Publish(config.TopicIndex, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish index request", "error", err)
		middleware.WriteError(ctx, w, "QUEUE_ERROR", "failed to queue indexing request", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	resp := map[string]interface{}{"data": map[string]interface{}{"status": "queued", "units": len(req.Units)}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Reconcile retries deletes left inconsistent by earlier runs.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pending, err := h.indexer.Reconcile(ctx)

	resp := map[string]interface{}{"pending": pending}
	if err != nil {
		slog.WarnContext(ctx, "reconcile incomplete", "pending", pending, "error", err)
		resp["error"] = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
