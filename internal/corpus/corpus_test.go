package corpus_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpora/internal/corpus"
)

func TestUnitID_ContentAddressed(t *testing.T) {
	a := corpus.NewContentUnit("a.md", 0, []string{"H1"}, "hello")
	b := corpus.NewContentUnit("a.md", 7, []string{"H1"}, "hello")
	c := corpus.NewContentUnit("a.md", 0, []string{"H1"}, "hello!")
	d := corpus.NewContentUnit("b.md", 0, []string{"H1"}, "hello")
	e := corpus.NewContentUnit("a.md", 0, []string{"H2"}, "hello")

	assert.Equal(t, a.ID, b.ID, "sequence order is not part of identity")
	assert.NotEqual(t, a.ID, c.ID)
	assert.NotEqual(t, a.ID, d.ID)
	assert.NotEqual(t, a.ID, e.ID)
	assert.Len(t, a.ID, 64)
}

func TestContentUnit_ResolveID(t *testing.T) {
	want := corpus.UnitID("a.md", []string{"H"}, "text")

	missing := corpus.ContentUnit{SourcePath: "a.md", HeaderPath: []string{"H"}, Text: "text"}
	require.NoError(t, missing.ResolveID())
	assert.Equal(t, want, missing.ID)

	matching := corpus.ContentUnit{ID: want, SourcePath: "a.md", HeaderPath: []string{"H"}, Text: "text"}
	require.NoError(t, matching.ResolveID())
	assert.Equal(t, want, matching.ID)

	stale := corpus.ContentUnit{ID: want, SourcePath: "a.md", HeaderPath: []string{"H"}, Text: "edited"}
	assert.ErrorIs(t, stale.ResolveID(), corpus.ErrUserInput)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    corpus.Mode
		wantErr bool
	}{
		{"full", corpus.ModeFull, false},
		{"", corpus.ModeFull, false},
		{"byFile", corpus.ModeByFile, false},
		{"incremental", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := corpus.ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, corpus.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsistencyError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&corpus.ConsistencyError{Side: corpus.SideLedger, IDs: []string{"x"}, Err: cause})

	assert.ErrorIs(t, err, corpus.ErrIndexConsistency)
	assert.ErrorIs(t, err, cause)

	var ce *corpus.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ledger", ce.Side)
}
