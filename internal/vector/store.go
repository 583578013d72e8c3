// Package vector holds embedded content units and answers similarity queries.
package vector

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"corpora/internal/corpus"
	"corpora/internal/provider"
)

// Entry is a stored unit and its embedding.
type Entry struct {
	Unit      corpus.ContentUnit
	Embedding []float32
}

// Store is an exact, in-memory cosine similarity index. Dimensionality is
// fixed at construction from a probe embedding.
type Store struct {
	mu        sync.RWMutex
	embedder  provider.Embedder
	dims      int
	threshold float32
	entries   map[string]Entry
}

// NewStore probes the embedder once to learn the vector dimensionality.
func NewStore(ctx context.Context, embedder provider.Embedder, threshold float32) (*Store, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	probe, err := embedder.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return nil, err
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("%w: embedder returned an empty probe vector", corpus.ErrConfiguration)
	}
	return &Store{
		embedder:  embedder,
		dims:      len(probe),
		threshold: threshold,
		entries:   make(map[string]Entry),
	}, nil
}

func ValidateThreshold(t float32) error {
	if math.IsNaN(float64(t)) || t < -1 || t > 1 {
		return fmt.Errorf("%w: similarity threshold %v outside [-1, 1]", corpus.ErrConfiguration, t)
	}
	return nil
}

func (s *Store) Dimensions() int { return s.dims }

func (s *Store) SimilarityThreshold() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

func (s *Store) SetSimilarityThreshold(t float32) error {
	if err := ValidateThreshold(t); err != nil {
		return err
	}
	s.mu.Lock()
	s.threshold = t
	s.mu.Unlock()
	return nil
}

// AddDocuments embeds units in one batched call and inserts them. Embedder
// errors are returned as-is.
func (s *Store) AddDocuments(ctx context.Context, units []corpus.ContentUnit) error {
	if len(units) == 0 {
		return nil
	}
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = corpus.Render(u.HeaderPath, u.Text)
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(units) {
		return fmt.Errorf("%w: got %d embeddings for %d documents", corpus.ErrProvider, len(vectors), len(units))
	}
	for i, v := range vectors {
		if len(v) != s.dims {
			return fmt.Errorf("%w: embedding for %s has %d dimensions, store has %d", corpus.ErrConfiguration, units[i].ID, len(v), s.dims)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range units {
		s.entries[u.ID] = Entry{Unit: u, Embedding: vectors[i]}
	}
	return nil
}

// Delete removes entries by id; unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

// SimilaritySearch returns at most k entries scoring at or above the store
// threshold, best first. Equal scores are ordered by id.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]corpus.ScoredUnit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", corpus.ErrConfiguration, k)
	}
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", corpus.ErrConfiguration, len(query), s.dims)
	}

	s.mu.RLock()
	threshold := s.threshold
	results := make([]corpus.ScoredUnit, 0, len(s.entries))
	for _, e := range s.entries {
		score := CosineSimilarity(query, e.Embedding)
		if score >= threshold {
			results = append(results, corpus.ScoredUnit{Unit: e.Unit, Score: score})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(results, func(a, b corpus.ScoredUnit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Unit.ID, b.Unit.ID)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// GetData serializes every entry. See EncodeEntries for the layout.
func (s *Store) GetData(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	return EncodeEntries(s.dims, entries)
}

// Validate decodes a dump and checks its dimensionality without applying it.
func (s *Store) Validate(ctx context.Context, dump []byte) error {
	_, err := s.decode(dump)
	return err
}

// Restore replaces the store contents with a dump of the same dimensionality.
func (s *Store) Restore(ctx context.Context, dump []byte) error {
	entries, err := s.decode(dump)
	if err != nil {
		return err
	}

	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		next[e.Unit.ID] = e
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	return nil
}

func (s *Store) decode(dump []byte) ([]Entry, error) {
	dims, entries, err := DecodeEntries(dump)
	if err != nil {
		return nil, err
	}
	if dims != s.dims {
		return nil, fmt.Errorf("%w: dump has %d dimensions, store has %d", corpus.ErrConfiguration, dims, s.dims)
	}
	return entries, nil
}

// CosineSimilarity returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
