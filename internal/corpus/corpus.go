package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ContentUnit is a content-addressed chunk of source text.
type ContentUnit struct {
	ID            string   `json:"id"`
	SourcePath    string   `json:"source_path"`
	SequenceOrder int      `json:"sequence_order"`
	HeaderPath    []string `json:"header_path,omitempty"`
	Text          string   `json:"text"`
}

// NewContentUnit builds a unit whose ID is derived from the source path and
// the rendered text, so any edit to either produces a new identity.
func NewContentUnit(sourcePath string, seq int, headerPath []string, text string) ContentUnit {
	return ContentUnit{
		ID:            UnitID(sourcePath, headerPath, text),
		SourcePath:    sourcePath,
		SequenceOrder: seq,
		HeaderPath:    headerPath,
		Text:          text,
	}
}

// ResolveID fills a missing ID and rejects one that does not match the
// unit's content, since a stale ID would make an edited unit look indexed.
func (u *ContentUnit) ResolveID() error {
	want := UnitID(u.SourcePath, u.HeaderPath, u.Text)
	if u.ID != "" && u.ID != want {
		return fmt.Errorf("%w: unit id %q does not match its content", ErrUserInput, u.ID)
	}
	u.ID = want
	return nil
}

// UnitID hashes the stable key plus the rendered text.
func UnitID(sourcePath string, headerPath []string, text string) string {
	h := sha256.New()
	h.Write([]byte(sourcePath))
	h.Write([]byte{0})
	h.Write([]byte(Render(headerPath, text)))
	return hex.EncodeToString(h.Sum(nil))
}

// Render is the text that identifies a unit: its heading breadcrumb followed by the body.
func Render(headerPath []string, text string) string {
	if len(headerPath) == 0 {
		return text
	}
	return strings.Join(headerPath, " > ") + "\n" + text
}

type IndexRecord struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	IndexedAt  time.Time `json:"indexed_at"`
}

type ScoredUnit struct {
	Unit  ContentUnit `json:"unit"`
	Score float32     `json:"score"`
}

// DeleteFilter scopes a stale-id query. A zero IndexedBefore means the time
// filter is absent; SourcesSet distinguishes an empty source list from no
// source filter at all.
type DeleteFilter struct {
	IndexedBefore time.Time
	Sources       []string
	SourcesSet    bool
}

func (f DeleteFilter) HasTime() bool { return !f.IndexedBefore.IsZero() }

// WithSources returns a copy of f restricted to the given sources.
func (f DeleteFilter) WithSources(sources []string) DeleteFilter {
	f.Sources = sources
	f.SourcesSet = true
	return f
}

// Mode selects how stale entries are scoped after an indexing run.
type Mode string

const (
	ModeFull   Mode = "full"
	ModeByFile Mode = "byFile"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, "":
		return ModeFull, nil
	case ModeByFile:
		return ModeByFile, nil
	}
	return "", fmt.Errorf("%w: unknown indexing mode %q", ErrConfiguration, s)
}

// UnitIDs extracts ids preserving order.
func UnitIDs(units []ContentUnit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}
