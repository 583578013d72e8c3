package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"corpora/internal/corpus"
)

// StatusFor maps the error taxonomy to an API error code and HTTP status.
// A consistency error outranks whatever caused it.
func StatusFor(err error) (string, int) {
	switch {
	case errors.Is(err, corpus.ErrIndexConsistency):
		return "INDEX_INCONSISTENT", http.StatusInternalServerError
	case errors.Is(err, corpus.ErrUserInput):
		return "INVALID_INPUT", http.StatusBadRequest
	case errors.Is(err, corpus.ErrConfiguration):
		return "INVALID_CONFIGURATION", http.StatusBadRequest
	case errors.Is(err, corpus.ErrReductionImpossible):
		return "REDUCTION_IMPOSSIBLE", http.StatusUnprocessableEntity
	case errors.Is(err, corpus.ErrProvider):
		return "PROVIDER_ERROR", http.StatusBadGateway
	}
	return "INTERNAL_ERROR", http.StatusInternalServerError
}

// WriteError writes the standard error envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}

// WriteDomainError classifies err and writes it with WriteError.
func WriteDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := StatusFor(err)
	WriteError(ctx, w, code, err.Error(), status)
}
