// Package stream turns the incremental output of a query run into
// phase-tagged progress events.
package stream

import "strings"

type updateKind int

const (
	kindStarted updateKind = iota
	kindRetrievalStarted
	kindDocumentsRetrieved
	kindReductionStarted
	kindTextDelta
)

// Update is one field-level change to a run's progress document.
type Update struct {
	kind  updateKind
	count int
	text  string
}

func Started() Update          { return Update{kind: kindStarted} }
func RetrievalStarted() Update { return Update{kind: kindRetrievalStarted} }

func DocumentsRetrieved(n int) Update {
	return Update{kind: kindDocumentsRetrieved, count: n}
}

// ReductionStarted records that the retrieved context needs reduction and
// how many passages go into the first pass.
func ReductionStarted(notes int) Update {
	return Update{kind: kindReductionStarted, count: notes}
}

func TextDelta(s string) Update {
	return Update{kind: kindTextDelta, text: s}
}

// Builder is the materialized progress document.
type Builder struct {
	started   bool
	retrieval bool
	documents *int
	notes     *int
	text      strings.Builder
}

func (b *Builder) Apply(u Update) {
	switch u.kind {
	case kindStarted:
		b.started = true
	case kindRetrievalStarted:
		b.retrieval = true
	case kindDocumentsRetrieved:
		n := u.count
		b.retrieval = true
		b.documents = &n
	case kindReductionStarted:
		n := u.count
		b.notes = &n
	case kindTextDelta:
		b.text.WriteString(u.text)
	}
}

func (b *Builder) RetrievalStarted() bool { return b.retrieval }

// Documents reports the retrieved document count once known.
func (b *Builder) Documents() (int, bool) {
	if b.documents == nil {
		return 0, false
	}
	return *b.documents, true
}

func (b *Builder) Notes() (int, bool) {
	if b.notes == nil {
		return 0, false
	}
	return *b.notes, true
}

func (b *Builder) Text() string { return b.text.String() }
