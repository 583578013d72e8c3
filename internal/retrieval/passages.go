package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"corpora/internal/corpus"
)

// PassageSeparator joins passages wherever they are counted or sent together.
const PassageSeparator = "\n\n"

type TokenCounter interface {
	Count(ctx context.Context, text string) (int, error)
}

// TokenBudget is what remains of the context window once the prompt
// rendered with empty content is paid for.
func TokenBudget(ctx context.Context, counter TokenCounter, contextWindow int, emptyPrompt string) (int, error) {
	overhead, err := counter.Count(ctx, emptyPrompt)
	if err != nil {
		return 0, fmt.Errorf("count prompt overhead: %w", err)
	}
	budget := contextWindow - overhead
	if budget <= 0 {
		return 0, fmt.Errorf("%w: context window %d leaves no room after %d prompt tokens", corpus.ErrConfiguration, contextWindow, overhead)
	}
	return budget, nil
}

// FormatPassages renders retrieved units as one passage per source, sources
// ordered by their best-ranked hit and units by sequence. A source whose
// passage exceeds budget is split at unit boundaries into numbered parts.
func FormatPassages(ctx context.Context, counter TokenCounter, results []corpus.ScoredUnit, budget int) ([]string, error) {
	var order []string
	groups := make(map[string][]corpus.ContentUnit)
	for _, r := range results {
		src := r.Unit.SourcePath
		if _, ok := groups[src]; !ok {
			order = append(order, src)
		}
		groups[src] = append(groups[src], r.Unit)
	}

	var passages []string
	for _, src := range order {
		units := groups[src]
		slices.SortStableFunc(units, func(a, b corpus.ContentUnit) int {
			return cmp.Compare(a.SequenceOrder, b.SequenceOrder)
		})

		whole := renderPassage(src, 0, units)
		n, err := counter.Count(ctx, whole)
		if err != nil {
			return nil, fmt.Errorf("count passage for %s: %w", src, err)
		}
		if n <= budget || len(units) == 1 {
			passages = append(passages, whole)
			continue
		}

		parts, err := splitSource(ctx, counter, src, units, budget)
		if err != nil {
			return nil, err
		}
		passages = append(passages, parts...)
	}
	return passages, nil
}

// splitSource greedily packs units into parts that fit budget. A single unit
// that does not fit still gets its own part; SplitByBudget reports it.
func splitSource(ctx context.Context, counter TokenCounter, src string, units []corpus.ContentUnit, budget int) ([]string, error) {
	var parts []string
	start := 0
	for i := range units {
		if i == start {
			continue
		}
		n, err := counter.Count(ctx, renderPassage(src, len(parts)+1, units[start:i+1]))
		if err != nil {
			return nil, fmt.Errorf("count passage for %s: %w", src, err)
		}
		if n > budget {
			parts = append(parts, renderPassage(src, len(parts)+1, units[start:i]))
			start = i
		}
	}
	parts = append(parts, renderPassage(src, len(parts)+1, units[start:]))
	return parts, nil
}

// renderPassage writes the source reference followed by each unit's text,
// emitting a heading only where it differs from the previous unit's heading
// at that depth. Once a depth differs every deeper heading is emitted again.
// part 0 means the passage is not split.
func renderPassage(src string, part int, units []corpus.ContentUnit) string {
	var b strings.Builder
	if part > 0 {
		fmt.Fprintf(&b, "[source: %s, part %d]", src, part)
	} else {
		fmt.Fprintf(&b, "[source: %s]", src)
	}

	// A heading is written only where it differs from the previous unit's
	// heading at the same depth.
	var prev []string
	for _, u := range units {
		for depth, h := range u.HeaderPath {
			if depth < len(prev) && prev[depth] == h {
				continue
			}
			b.WriteString("\n")
			b.WriteString(strings.Repeat("#", depth+1))
			b.WriteString(" ")
			b.WriteString(h)
		}
		prev = u.HeaderPath
		b.WriteString("\n")
		b.WriteString(u.Text)
	}
	return b.String()
}

// SplitByBudget greedily groups passages so each group's joined token count
// stays within budget. A passage that exceeds budget on its own cannot be
// split here and yields ErrReductionImpossible.
func SplitByBudget(ctx context.Context, counter TokenCounter, passages []string, budget int) ([][]string, error) {
	var groups [][]string
	var cur []string
	for i, p := range passages {
		cur = append(cur, p)
		n, err := counter.Count(ctx, strings.Join(cur, PassageSeparator))
		if err != nil {
			return nil, fmt.Errorf("count group: %w", err)
		}
		if n <= budget {
			continue
		}
		if len(cur) == 1 {
			return nil, fmt.Errorf("%w: passage %d needs %d tokens, budget is %d", corpus.ErrReductionImpossible, i, n, budget)
		}

		groups = append(groups, cur[:len(cur)-1])
		cur = []string{p}
		n, err = counter.Count(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("count group: %w", err)
		}
		if n > budget {
			return nil, fmt.Errorf("%w: passage %d needs %d tokens, budget is %d", corpus.ErrReductionImpossible, i, n, budget)
		}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups, nil
}

// Fits joins passages and reports whether the result is within budget.
func Fits(ctx context.Context, counter TokenCounter, passages []string, budget int) (string, bool, error) {
	text := strings.Join(passages, PassageSeparator)
	n, err := counter.Count(ctx, text)
	if err != nil {
		return "", false, fmt.Errorf("count context: %w", err)
	}
	return text, n <= budget, nil
}
