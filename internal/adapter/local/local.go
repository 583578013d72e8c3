// Package local is an offline backend: feature-hashed embeddings, extractive
// frequency summaries and whitespace token counts. It needs no network or keys.
package local

import (
	"context"
	"hash/fnv"
	"iter"
	"math"
	"regexp"
	"slices"
	"strings"

	"corpora/internal/provider"
)

const Tag = "local"

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// HashEmbedder maps tokens into a fixed number of buckets and L2-normalizes
// the term-frequency vector.
type HashEmbedder struct {
	dims      int
	stopwords map[string]struct{}
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims, stopwords: defaultStopwords()}
}

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, tok := range tokens(text) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

// Summarizer keeps the highest-scoring sentences by normalized word frequency,
// in their original order.
type Summarizer struct {
	maxSentences int
	stopwords    map[string]struct{}
}

func NewSummarizer(maxSentences int) *Summarizer {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &Summarizer{maxSentences: maxSentences, stopwords: defaultStopwords()}
}

func (s *Summarizer) Invoke(ctx context.Context, prompt string) (string, error) {
	return strings.Join(s.summarize(prompt), " "), nil
}

// Stream emits the summary one sentence at a time.
func (s *Summarizer) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i, sent := range s.summarize(prompt) {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if i > 0 {
				sent = " " + sent
			}
			if !yield(sent, nil) {
				return
			}
		}
	}
}

func (s *Summarizer) summarize(text string) []string {
	trimmed := splitSentences(text)
	if len(trimmed) == 0 {
		return nil
	}

	freq := map[string]float64{}
	for _, sent := range trimmed {
		for _, tok := range tokens(sent) {
			if _, stop := s.stopwords[tok]; !stop {
				freq[tok]++
			}
		}
	}
	maxF := 1.0
	for _, v := range freq {
		maxF = max(maxF, v)
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(trimmed))
	for i, sent := range trimmed {
		toks := tokens(sent)
		var sc float64
		for _, tok := range toks {
			sc += freq[tok] / maxF
		}
		if len(toks) > 0 {
			sc /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, sc}
	}
	slices.SortStableFunc(scores, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	n := min(s.maxSentences, len(scores))
	selected := make([]int, n)
	for i := range n {
		selected[i] = scores[i].idx
	}
	slices.Sort(selected)

	out := make([]string, n)
	for i, idx := range selected {
		out[i] = trimmed[idx]
	}
	return out
}

// splitSentences cuts after '.', '!', '?' or a newline and drops blank pieces.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if t := strings.TrimSpace(text[start : i+1]); t != "" {
				out = append(out, t)
			}
			start = i + 1
		}
	}
	if t := strings.TrimSpace(text[start:]); t != "" {
		out = append(out, t)
	}
	return out
}

// WordCounter approximates tokens as whitespace-separated words.
type WordCounter struct{}

func (WordCounter) Count(ctx context.Context, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type Options struct {
	Dimensions   int
	MaxSentences int
}

func Register(reg *provider.Registry, opts Options) {
	reg.Register(Tag, func(ctx context.Context) (provider.Capabilities, error) {
		return provider.Capabilities{
			Embedder:     NewHashEmbedder(opts.Dimensions),
			Generator:    NewSummarizer(opts.MaxSentences),
			TokenCounter: WordCounter{},
		}, nil
	})
}

func tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
