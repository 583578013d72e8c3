package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"corpora/internal/corpus"
)

type Summarizer interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Reducer shrinks passages by repeated map-reduce summarization until their
// joined text fits the budget.
type Reducer struct {
	Generator Summarizer
	Counter   TokenCounter
	// MaxPasses bounds the loop; zero means no bound.
	MaxPasses int
	// Concurrency limits summarization calls in flight within one pass.
	Concurrency int
	// ContextWindow, when set, also caps each group so the pass prompt
	// wrapped around it fits the model.
	ContextWindow int
}

type Result struct {
	Text   string
	Passes int
}

// Reduce returns the joined passages unchanged when they already fit.
func (r *Reducer) Reduce(ctx context.Context, query string, passages []string, budget int) (Result, error) {
	text, ok, err := Fits(ctx, r.Counter, passages, budget)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return Result{Text: text}, nil
	}

	current := passages
	for pass := 1; ; pass++ {
		if r.MaxPasses > 0 && pass > r.MaxPasses {
			return Result{Passes: pass - 1}, fmt.Errorf("%w: context still over budget after %d reduce passes", corpus.ErrReductionImpossible, r.MaxPasses)
		}
		if err := ctx.Err(); err != nil {
			return Result{Passes: pass - 1}, err
		}

		limit, err := r.groupBudget(ctx, pass, query, budget)
		if err != nil {
			return Result{Passes: pass - 1}, err
		}
		groups, err := SplitByBudget(ctx, r.Counter, current, limit)
		if err != nil {
			return Result{Passes: pass - 1}, err
		}
		slog.DebugContext(ctx, "reduce pass", "pass", pass, "passages", len(current), "groups", len(groups))

		next, err := r.summarize(ctx, pass, query, groups)
		if err != nil {
			return Result{Passes: pass}, fmt.Errorf("reduce pass %d: %w", pass, err)
		}

		text, ok, err := Fits(ctx, r.Counter, next, budget)
		if err != nil {
			return Result{Passes: pass}, err
		}
		if ok {
			return Result{Text: text, Passes: pass}, nil
		}
		current = next
	}
}

func (r *Reducer) groupBudget(ctx context.Context, pass int, query string, budget int) (int, error) {
	if r.ContextWindow <= 0 {
		return budget, nil
	}
	passBudget, err := TokenBudget(ctx, r.Counter, r.ContextWindow, ReducePrompt(pass, query, ""))
	if err != nil {
		return 0, err
	}
	return min(budget, passBudget), nil
}

func (r *Reducer) summarize(ctx context.Context, pass int, query string, groups [][]string) ([]string, error) {
	out := make([]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for i, group := range groups {
		g.Go(func() error {
			s, err := r.Generator.Invoke(gctx, ReducePrompt(pass, query, strings.Join(group, PassageSeparator)))
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
