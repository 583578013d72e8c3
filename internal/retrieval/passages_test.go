package retrieval_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpora/internal/adapter/local"
	"corpora/internal/corpus"
	"corpora/internal/retrieval"
)

func scored(src string, seq int, headers []string, text string) corpus.ScoredUnit {
	return corpus.ScoredUnit{Unit: corpus.NewContentUnit(src, seq, headers, text), Score: 1}
}

func TestFormatPassages_CollapsesRepeatedHeaders(t *testing.T) {
	results := []corpus.ScoredUnit{
		scored("doc.md", 2, []string{"H1", "H2"}, "gamma"),
		scored("doc.md", 0, []string{"H1"}, "alpha"),
		scored("doc.md", 1, []string{"H1", "H2"}, "beta"),
	}

	passages, err := retrieval.FormatPassages(context.Background(), local.WordCounter{}, results, 1000)
	require.NoError(t, err)
	require.Len(t, passages, 1)

	assert.Equal(t, "[source: doc.md]\n# H1\nalpha\n## H2\nbeta\ngamma", passages[0])
	assert.Equal(t, 1, strings.Count(passages[0], "# H1"))
	assert.Equal(t, 1, strings.Count(passages[0], "## H2"))
}

func TestFormatPassages_EmitsOnlyChangedDepths(t *testing.T) {
	tests := []struct {
		name    string
		results []corpus.ScoredUnit
		want    string
	}{
		{
			name: "parent changes, child repeats",
			results: []corpus.ScoredUnit{
				scored("doc.md", 0, []string{"A", "Setup"}, "one"),
				scored("doc.md", 1, []string{"B", "Setup"}, "two"),
			},
			want: "[source: doc.md]\n# A\n## Setup\none\n# B\ntwo",
		},
		{
			name: "child changes",
			results: []corpus.ScoredUnit{
				scored("doc.md", 0, []string{"A", "Setup"}, "one"),
				scored("doc.md", 1, []string{"A", "Usage"}, "two"),
			},
			want: "[source: doc.md]\n# A\n## Setup\none\n## Usage\ntwo",
		},
		{
			name: "shallower path then deeper again",
			results: []corpus.ScoredUnit{
				scored("doc.md", 0, []string{"A", "Setup"}, "one"),
				scored("doc.md", 1, []string{"A"}, "two"),
				scored("doc.md", 2, []string{"A", "Setup"}, "three"),
			},
			want: "[source: doc.md]\n# A\n## Setup\none\ntwo\n## Setup\nthree",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passages, err := retrieval.FormatPassages(context.Background(), local.WordCounter{}, tt.results, 1000)
			require.NoError(t, err)
			require.Len(t, passages, 1)
			assert.Equal(t, tt.want, passages[0])
		})
	}
}

func TestFormatPassages_OrdersSourcesByFirstHit(t *testing.T) {
	results := []corpus.ScoredUnit{
		scored("b.md", 0, nil, "first hit"),
		scored("a.md", 0, nil, "second hit"),
		scored("b.md", 1, nil, "third hit"),
	}

	passages, err := retrieval.FormatPassages(context.Background(), local.WordCounter{}, results, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[source: b.md]\nfirst hit\nthird hit",
		"[source: a.md]\nsecond hit",
	}, passages)
}

func TestFormatPassages_SplitsOversizedSourceIntoParts(t *testing.T) {
	results := []corpus.ScoredUnit{
		scored("doc.md", 0, nil, "one two three"),
		scored("doc.md", 1, nil, "four five six"),
		scored("doc.md", 2, nil, "seven eight nine"),
	}

	passages, err := retrieval.FormatPassages(context.Background(), local.WordCounter{}, results, 8)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[source: doc.md, part 1]\none two three",
		"[source: doc.md, part 2]\nfour five six",
		"[source: doc.md, part 3]\nseven eight nine",
	}, passages)
}

func TestFormatPassages_Empty(t *testing.T) {
	passages, err := retrieval.FormatPassages(context.Background(), local.WordCounter{}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestSplitByBudget(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		passages []string
		budget   int
		want     [][]string
		wantErr  error
	}{
		{
			name:     "greedy grouping",
			passages: []string{"a b c", "d e f", "g h"},
			budget:   6,
			want:     [][]string{{"a b c", "d e f"}, {"g h"}},
		},
		{
			name:     "each passage alone",
			passages: []string{"a b c", "d e f"},
			budget:   3,
			want:     [][]string{{"a b c"}, {"d e f"}},
		},
		{
			name:     "first passage over budget",
			passages: []string{"a b c d e"},
			budget:   3,
			wantErr:  corpus.ErrReductionImpossible,
		},
		{
			name:     "later passage over budget",
			passages: []string{"a", "b c d e f"},
			budget:   3,
			wantErr:  corpus.ErrReductionImpossible,
		},
		{
			name:   "no passages",
			budget: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := retrieval.SplitByBudget(ctx, local.WordCounter{}, tt.passages, tt.budget)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenBudget(t *testing.T) {
	ctx := context.Background()

	budget, err := retrieval.TokenBudget(ctx, local.WordCounter{}, 100, "a b c")
	require.NoError(t, err)
	assert.Equal(t, 97, budget)

	_, err = retrieval.TokenBudget(ctx, local.WordCounter{}, 3, "a b c")
	assert.ErrorIs(t, err, corpus.ErrConfiguration)
}

func TestFits(t *testing.T) {
	text, ok, err := retrieval.Fits(context.Background(), local.WordCounter{}, []string{"a b", "c"}, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a b\n\nc", text)

	_, ok, err = retrieval.Fits(context.Background(), local.WordCounter{}, []string{"a b", "c d"}, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}
