// Package record keeps the ledger of indexed content-unit identities and the
// time each was last seen by an indexing run.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"corpora/internal/corpus"
)

// Manager is the ledger contract shared by the in-memory and Postgres backends.
// Writes are not retried; callers pair them with vector store writes.
type Manager interface {
	Now(ctx context.Context) (time.Time, error)
	Exists(ctx context.Context, ids []string) ([]bool, error)
	Update(ctx context.Context, records []corpus.IndexRecord) error
	IDsToDelete(ctx context.Context, filter corpus.DeleteFilter) ([]string, error)
	DeleteIDs(ctx context.Context, ids []string) error
	GetData(ctx context.Context) ([]byte, error)
	Restore(ctx context.Context, dump []byte) error
	Count(ctx context.Context) (int, error)
}

func validateFilter(f corpus.DeleteFilter) error {
	if !f.HasTime() && !f.SourcesSet {
		return fmt.Errorf("%w: delete filter needs indexedBefore or sources", corpus.ErrUserInput)
	}
	return nil
}

func encodeDump(records []corpus.IndexRecord) ([]byte, error) {
	slices.SortFunc(records, func(a, b corpus.IndexRecord) int { return strings.Compare(a.ID, b.ID) })
	if records == nil {
		records = []corpus.IndexRecord{}
	}
	return json.Marshal(records)
}

func decodeDump(dump []byte) ([]corpus.IndexRecord, error) {
	var records []corpus.IndexRecord
	if err := json.Unmarshal(dump, &records); err != nil {
		return nil, fmt.Errorf("%w: decode ledger dump: %v", corpus.ErrUserInput, err)
	}
	for _, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: ledger dump contains a record without id", corpus.ErrUserInput)
		}
	}
	return records, nil
}
