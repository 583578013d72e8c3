package settings

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"corpora/internal/corpus"
)

// Settings are the runtime-mutable knobs stored in the settings row.
type Settings struct {
	ID                  int     `json:"-"`
	GeminiAPIKey        string  `json:"gemini_api_key"`
	SimilarityThreshold float32 `json:"similarity_threshold"`
	SearchTopK          int     `json:"search_top_k"`
}

func (s *Settings) Validate() error {
	t := float64(s.SimilarityThreshold)
	if math.IsNaN(t) || t < -1 || t > 1 {
		return fmt.Errorf("%w: similarity_threshold must be within [-1, 1]", corpus.ErrUserInput)
	}
	if s.SearchTopK <= 0 {
		return fmt.Errorf("%w: search_top_k must be positive", corpus.ErrUserInput)
	}
	return nil
}

// MaskedKey replaces a stored API key in read responses.
const MaskedKey = "********"

// Patch is a partial update. Nil fields keep their stored value, and so does
// a key that is blank or still masked.
type Patch struct {
	GeminiAPIKey        *string  `json:"gemini_api_key"`
	SimilarityThreshold *float32 `json:"similarity_threshold"`
	SearchTopK          *int     `json:"search_top_k"`
}

func (p Patch) apply(cur Settings) Settings {
	if p.GeminiAPIKey != nil && *p.GeminiAPIKey != "" && *p.GeminiAPIKey != MaskedKey {
		cur.GeminiAPIKey = *p.GeminiAPIKey
	}
	if p.SimilarityThreshold != nil {
		cur.SimilarityThreshold = *p.SimilarityThreshold
	}
	if p.SearchTopK != nil {
		cur.SearchTopK = *p.SearchTopK
	}
	return cur
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

// Listener is told about every successful update.
type Listener func(ctx context.Context, s *Settings) error

type Service struct {
	repo      Repository
	mu        sync.RWMutex
	listeners []Listener
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, set); err != nil {
		return err
	}

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, l := range listeners {
		if err := l(ctx, set); err != nil {
			slog.WarnContext(ctx, "settings listener failed", "error", err)
		}
	}
	return nil
}

// Apply merges p onto the stored settings and saves the result.
func (s *Service) Apply(ctx context.Context, p Patch) (*Settings, error) {
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load current settings: %w", err)
	}
	next := p.apply(*cur)
	if err := s.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Subscribe registers fn to run after each successful Update.
func (s *Service) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}
