package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"corpora/internal/corpus"
	"corpora/internal/middleware"
	"corpora/internal/settings"
)

type SearchOptions struct {
	Limit *int
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]corpus.ScoredUnit, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type Service struct {
	embedder    QueryEmbedder
	store       VectorStore
	settings    SettingsReader
	defaultTopK int
	logger      *QueryLogger
}

// NewService builds a searcher. defaultTopK is used when settings are
// unavailable or carry no top-k.
func NewService(e QueryEmbedder, s VectorStore, set SettingsReader, defaultTopK int, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, settings: set, defaultTopK: defaultTopK, logger: l}
}

func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]corpus.ScoredUnit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be blank", corpus.ErrUserInput)
	}

	start := time.Now()
	var results []corpus.ScoredUnit
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			s.logger.Log(QueryLogEntry{
				Query:         query,
				NumResults:    len(results),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			})
		}
	}()

	limit := s.topK(ctx)
	if opts != nil && opts.Limit != nil {
		limit = *opts.Limit
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err = s.store.SimilaritySearch(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) topK(ctx context.Context) int {
	if s.settings == nil {
		return s.defaultTopK
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "settings unavailable, using default top-k", "error", err, "top_k", s.defaultTopK)
		return s.defaultTopK
	}
	if cfg.SearchTopK <= 0 {
		return s.defaultTopK
	}
	return cfg.SearchTopK
}
