package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"corpora/internal/middleware"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type RunTracker interface {
	Active() int
}

type PendingTracker interface {
	Pending() int
}

type Handler struct {
	records Counter
	vectors Counter
	jobs    Counter
	runs    RunTracker
	pending PendingTracker
}

func NewHandler(records, vectors, jobs Counter, runs RunTracker, pending PendingTracker) *Handler {
	return &Handler{records: records, vectors: vectors, jobs: jobs, runs: runs, pending: pending}
}

type StatsResponse struct {
	Records       int `json:"records"`
	Vectors       int `json:"vectors"`
	FailedJobs    int `json:"failed_jobs"`
	ActiveQueries int `json:"active_queries"`
	PendingDelete int `json:"pending_deletes"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	rCount, err := h.records.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count records", "error", err, "correlationId", correlationID)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", "failed to count records", http.StatusInternalServerError)
		return
	}

	vCount, err := h.vectors.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count vectors", "error", err, "correlationId", correlationID)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", "failed to count vectors", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobs.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Records:       rCount,
		Vectors:       vCount,
		FailedJobs:    jCount,
		ActiveQueries: h.runs.Active(),
		PendingDelete: h.pending.Pending(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
