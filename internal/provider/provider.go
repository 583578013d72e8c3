// Package provider declares the model capabilities the core consumes and a
// registry that selects a backend implementation by tag.
package provider

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"corpora/internal/corpus"
)

// Embedder turns text into vectors. Dimensionality must be stable for the
// lifetime of a store built on it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator produces text from a prompt, either in one call or as a stream of deltas.
type Generator interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

type TokenCounter interface {
	Count(ctx context.Context, text string) (int, error)
}

// Capabilities is the bundle one backend provides.
type Capabilities struct {
	Embedder     Embedder
	Generator    Generator
	TokenCounter TokenCounter
}

type Factory func(ctx context.Context) (Capabilities, error)

// Registry is a closed set of backends, populated explicitly at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(tag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = f
}

func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// Build resolves tag to a complete capability bundle.
func (r *Registry) Build(ctx context.Context, tag string) (Capabilities, error) {
	r.mu.RLock()
	f, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: unknown provider %q (known: %v)", corpus.ErrConfiguration, tag, r.Tags())
	}

	caps, err := f(ctx)
	if err != nil {
		return Capabilities{}, fmt.Errorf("build provider %q: %w", tag, err)
	}
	if caps.Embedder == nil || caps.Generator == nil || caps.TokenCounter == nil {
		return Capabilities{}, fmt.Errorf("%w: provider %q is missing a capability", corpus.ErrConfiguration, tag)
	}
	return caps, nil
}
