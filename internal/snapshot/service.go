package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"corpora/internal/corpus"
)

// Dumper is implemented by both the vector store and the ledger. Validate
// must reject every dump that Restore would reject for its content.
type Dumper interface {
	GetData(ctx context.Context) ([]byte, error)
	Validate(ctx context.Context, dump []byte) error
	Restore(ctx context.Context, dump []byte) error
}

// Guard keeps snapshots from interleaving with indexing runs. Replace also
// discards any state the guard holds about the corpus being replaced.
type Guard interface {
	Exclusive(ctx context.Context, fn func(context.Context) error) error
	Replace(ctx context.Context, fn func(context.Context) error) error
}

type Service struct {
	store  Dumper
	ledger Dumper
	guard  Guard
}

func NewService(store, ledger Dumper, guard Guard) *Service {
	return &Service{store: store, ledger: ledger, guard: guard}
}

func (s *Service) Create(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.exclusive(ctx, func(ctx context.Context) error {
		vec, err := s.store.GetData(ctx)
		if err != nil {
			return fmt.Errorf("dump vector store: %w", err)
		}
		rec, err := s.ledger.GetData(ctx)
		if err != nil {
			return fmt.Errorf("dump ledger: %w", err)
		}
		payload, err = Pack(vec, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "snapshot created", "bytes", len(payload))
	return payload, nil
}

// Load replaces both stores. Both sections are validated before either store
// is touched, so a malformed or mismatched snapshot leaves the corpus as it was.
func (s *Service) Load(ctx context.Context, payload []byte) error {
	vec, rec, err := Unpack(payload)
	if err != nil {
		return err
	}
	if err := s.store.Validate(ctx, vec); err != nil {
		return fmt.Errorf("vector section: %w", err)
	}
	if err := s.ledger.Validate(ctx, rec); err != nil {
		return fmt.Errorf("ledger section: %w", err)
	}

	replace := func(ctx context.Context) error {
		if err := s.store.Restore(ctx, vec); err != nil {
			return fmt.Errorf("restore vector store: %w", err)
		}
		if err := s.ledger.Restore(ctx, rec); err != nil {
			return &corpus.ConsistencyError{Side: corpus.SideLedger, Err: fmt.Errorf("restore ledger after vector store: %w", err)}
		}
		return nil
	}

	if s.guard != nil {
		err = s.guard.Replace(ctx, replace)
	} else {
		err = replace(ctx)
	}
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "snapshot loaded", "vector_bytes", len(vec), "ledger_bytes", len(rec))
	return nil
}

func (s *Service) exclusive(ctx context.Context, fn func(context.Context) error) error {
	if s.guard == nil {
		return fn(ctx)
	}
	return s.guard.Exclusive(ctx, fn)
}
