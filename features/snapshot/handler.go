package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"corpora/internal/corpus"
	"corpora/internal/middleware"
)

type Service interface {
	Create(ctx context.Context) ([]byte, error)
	Load(ctx context.Context, payload []byte) error
}

type Handler struct {
	service  Service
	maxBytes int64
}

func NewHandler(s Service, maxBytes int64) *Handler {
	return &Handler{service: s, maxBytes: maxBytes}
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := h.service.Create(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create snapshot", "error", err)
		middleware.WriteDomainError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "snapshot created", "bytes", len(payload))

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="corpus.snap"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	if _, err := w.Write(payload); err != nil {
		slog.WarnContext(ctx, "failed to write snapshot", "error", err)
	}
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		middleware.WriteDomainError(ctx, w, fmt.Errorf("%w: reading snapshot: %w", corpus.ErrUserInput, err))
		return
	}
	if err := h.service.Load(ctx, payload); err != nil {
		slog.ErrorContext(ctx, "failed to load snapshot", "error", err)
		middleware.WriteDomainError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "snapshot loaded", "bytes", len(payload))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "restored"}}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
