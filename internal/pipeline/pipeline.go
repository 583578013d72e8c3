// Package pipeline runs a query end to end: retrieval, context reduction
// and streamed generation, reported as stream updates.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"corpora/internal/corpus"
	"corpora/internal/provider"
	"corpora/internal/retrieval"
	"corpora/internal/stream"
)

type Searcher interface {
	Search(ctx context.Context, query string, opts *retrieval.SearchOptions) ([]corpus.ScoredUnit, error)
}

type Config struct {
	ContextWindow     int
	MaxReducePasses   int
	ReduceConcurrency int
}

type Pipeline struct {
	search  Searcher
	gen     provider.Generator
	counter provider.TokenCounter
	cfg     Config
}

func New(search Searcher, gen provider.Generator, counter provider.TokenCounter, cfg Config) *Pipeline {
	return &Pipeline{search: search, gen: gen, counter: counter, cfg: cfg}
}

// Run yields one update per step of the query. The token budget is checked
// before anything else so a misconfigured context window fails without I/O.
func (p *Pipeline) Run(ctx context.Context, query string) iter.Seq2[stream.Update, error] {
	return func(yield func(stream.Update, error) bool) {
		start := time.Now()
		budget, err := retrieval.TokenBudget(ctx, p.counter, p.cfg.ContextWindow, retrieval.AnswerPrompt(query, ""))
		if err != nil {
			yield(stream.Update{}, err)
			return
		}

		if !yield(stream.Started(), nil) {
			return
		}
		if !yield(stream.RetrievalStarted(), nil) {
			return
		}

		results, err := p.search.Search(ctx, query, nil)
		if err != nil {
			yield(stream.Update{}, fmt.Errorf("retrieve: %w", err))
			return
		}
		if !yield(stream.DocumentsRetrieved(len(results)), nil) {
			return
		}

		passages, err := retrieval.FormatPassages(ctx, p.counter, results, budget)
		if err != nil {
			yield(stream.Update{}, err)
			return
		}
		text, fits, err := retrieval.Fits(ctx, p.counter, passages, budget)
		if err != nil {
			yield(stream.Update{}, err)
			return
		}

		passes := 0
		if !fits {
			if !yield(stream.ReductionStarted(len(passages)), nil) {
				return
			}
			r := &retrieval.Reducer{
				Generator:     p.gen,
				Counter:       p.counter,
				MaxPasses:     p.cfg.MaxReducePasses,
				Concurrency:   p.cfg.ReduceConcurrency,
				ContextWindow: p.cfg.ContextWindow,
			}
			res, err := r.Reduce(ctx, query, passages, budget)
			if err != nil {
				yield(stream.Update{}, err)
				return
			}
			text, passes = res.Text, res.Passes
		}

		for delta, err := range p.gen.Stream(ctx, retrieval.AnswerPrompt(query, text)) {
			if err != nil {
				yield(stream.Update{}, fmt.Errorf("generate: %w", err))
				return
			}
			if !yield(stream.TextDelta(delta), nil) {
				return
			}
		}

		slog.InfoContext(ctx, "query run finished",
			"documents", len(results), "passages", len(passages), "reduce_passes", passes, "duration", time.Since(start))
	}
}

// Ask runs the query and translates its updates into progress events.
func (p *Pipeline) Ask(ctx context.Context, query string, stop *stream.StopFlag) iter.Seq2[stream.Event, error] {
	return stream.Translate(p.Run(ctx, query), stop)
}
