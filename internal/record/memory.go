package record

import (
	"context"
	"slices"
	"sync"
	"time"

	"corpora/internal/corpus"
)

// MemoryManager is a process-local ledger.
type MemoryManager struct {
	mu      sync.RWMutex
	records map[string]corpus.IndexRecord
	clock   func() time.Time
}

type MemoryOption func(*MemoryManager)

// WithClock replaces time.Now, mainly for tests that need distinct timestamps.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryManager) { m.clock = clock }
}

func NewMemoryManager(opts ...MemoryOption) *MemoryManager {
	m := &MemoryManager{
		records: make(map[string]corpus.IndexRecord),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryManager) Now(ctx context.Context) (time.Time, error) {
	return m.clock(), nil
}

func (m *MemoryManager) Exists(ctx context.Context, ids []string) ([]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]bool, len(ids))
	for i, id := range ids {
		_, out[i] = m.records[id]
	}
	return out, nil
}

func (m *MemoryManager) Update(ctx context.Context, records []corpus.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.IndexedAt = now
		m.records[r.ID] = r
	}
	return nil
}

func (m *MemoryManager) IDsToDelete(ctx context.Context, filter corpus.DeleteFilter) ([]string, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, r := range m.records {
		if filter.HasTime() && !r.IndexedAt.Before(filter.IndexedBefore) {
			continue
		}
		if filter.SourcesSet && !slices.Contains(filter.Sources, r.SourcePath) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryManager) DeleteIDs(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryManager) GetData(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	records := make([]corpus.IndexRecord, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.RUnlock()
	return encodeDump(records)
}

func (m *MemoryManager) Validate(ctx context.Context, dump []byte) error {
	_, err := decodeDump(dump)
	return err
}

func (m *MemoryManager) Restore(ctx context.Context, dump []byte) error {
	records, err := decodeDump(dump)
	if err != nil {
		return err
	}

	next := make(map[string]corpus.IndexRecord, len(records))
	for _, r := range records {
		next[r.ID] = r
	}

	m.mu.Lock()
	m.records = next
	m.mu.Unlock()
	return nil
}

func (m *MemoryManager) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}
