// Package indexing drives incremental indexing runs: per-batch dedup, a diff
// against the ledger, embedding of new units and stale-entry deletion.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"corpora/internal/corpus"
)

type Ledger interface {
	Now(ctx context.Context) (time.Time, error)
	Exists(ctx context.Context, ids []string) ([]bool, error)
	Update(ctx context.Context, records []corpus.IndexRecord) error
	IDsToDelete(ctx context.Context, filter corpus.DeleteFilter) ([]string, error)
	DeleteIDs(ctx context.Context, ids []string) error
}

type VectorStore interface {
	AddDocuments(ctx context.Context, units []corpus.ContentUnit) error
	Delete(ctx context.Context, ids []string) error
}

type Options struct {
	BatchSize int
	Mode      corpus.Mode
}

// Progress carries running totals for one run. Pending counts stale ids whose
// paired delete has not yet succeeded on both stores.
type Progress struct {
	NumAdded   int  `json:"num_added"`
	NumSkipped int  `json:"num_skipped"`
	NumDeleted int  `json:"num_deleted"`
	Pending    int  `json:"pending,omitempty"`
	Final      bool `json:"final,omitempty"`
}

// Orchestrator serializes runs against one ledger/store pair.
type Orchestrator struct {
	ledger Ledger
	store  VectorStore
	logger *slog.Logger

	runMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

func New(ledger Ledger, store VectorStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger:  ledger,
		store:   store,
		logger:  logger,
		pending: make(map[string]struct{}),
	}
}

// Index returns a lazy run: no work happens until the sequence is ranged
// over, and each pulled value is one committed batch. The last value has
// Final set and includes stale deletions. A non-nil error ends the run;
// batches committed before it stay committed.
func (o *Orchestrator) Index(ctx context.Context, units []corpus.ContentUnit, opts Options) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		var p Progress
		if opts.BatchSize <= 0 {
			yield(p, fmt.Errorf("%w: batch size must be positive, got %d", corpus.ErrConfiguration, opts.BatchSize))
			return
		}
		mode, err := corpus.ParseMode(string(opts.Mode))
		if err != nil {
			yield(p, err)
			return
		}

		o.runMu.Lock()
		defer o.runMu.Unlock()

		if n, err := o.reconcile(ctx); err != nil {
			o.logger.WarnContext(ctx, "pending deletes still inconsistent", "remaining", n, "error", err)
		}

		start, err := o.ledger.Now(ctx)
		if err != nil {
			yield(p, fmt.Errorf("read run start time: %w", err))
			return
		}
		o.logger.InfoContext(ctx, "indexing run started", "units", len(units), "batch_size", opts.BatchSize, "mode", mode)

		for batch := range slices.Chunk(units, opts.BatchSize) {
			if err := ctx.Err(); err != nil {
				yield(p, err)
				return
			}
			added, skipped, err := o.indexBatch(ctx, batch)
			if err != nil {
				yield(p, err)
				return
			}
			p.NumAdded += added
			p.NumSkipped += skipped
			if !yield(p, nil) {
				return
			}
		}

		filter := corpus.DeleteFilter{IndexedBefore: start}
		if mode == corpus.ModeByFile {
			filter = filter.WithSources(touchedSources(units))
		}
		stale, err := o.ledger.IDsToDelete(ctx, filter)
		if err != nil {
			yield(p, fmt.Errorf("find stale records: %w", err))
			return
		}
		deleted, err := o.deletePaired(ctx, stale)
		p.NumDeleted += deleted
		if err != nil {
			o.logger.WarnContext(ctx, "stale delete left stores inconsistent", "ids", len(stale), "error", err)
		}

		p.Pending = o.Pending()
		p.Final = true
		o.logger.InfoContext(ctx, "indexing run finished",
			"added", p.NumAdded, "skipped", p.NumSkipped, "deleted", p.NumDeleted, "pending", p.Pending)
		yield(p, nil)
	}
}

// Run drains Index and returns the final totals.
func (o *Orchestrator) Run(ctx context.Context, units []corpus.ContentUnit, opts Options) (Progress, error) {
	var last Progress
	for p, err := range o.Index(ctx, units, opts) {
		if err != nil {
			return p, err
		}
		last = p
	}
	return last, nil
}

func (o *Orchestrator) indexBatch(ctx context.Context, batch []corpus.ContentUnit) (added, skipped int, err error) {
	unique := Dedup(batch)
	skipped = len(batch) - len(unique)

	ids := corpus.UnitIDs(unique)
	exists, err := o.ledger.Exists(ctx, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("check existing records: %w", err)
	}
	if len(exists) != len(ids) {
		return 0, 0, fmt.Errorf("%w: ledger answered %d of %d existence checks", corpus.ErrIndexConsistency, len(exists), len(ids))
	}

	var fresh []corpus.ContentUnit
	records := make([]corpus.IndexRecord, len(unique))
	for i, u := range unique {
		records[i] = corpus.IndexRecord{ID: u.ID, SourcePath: u.SourcePath}
		if exists[i] {
			skipped++
		} else {
			fresh = append(fresh, u)
		}
	}

	if len(fresh) > 0 {
		if err := o.store.AddDocuments(ctx, fresh); err != nil {
			return 0, 0, fmt.Errorf("add documents: %w", err)
		}
	}
	if err := o.ledger.Update(ctx, records); err != nil {
		return 0, 0, fmt.Errorf("update records: %w", err)
	}
	return len(fresh), skipped, nil
}

// Dedup keeps the first occurrence of each id, preserving order.
func Dedup(units []corpus.ContentUnit) []corpus.ContentUnit {
	seen := make(map[string]struct{}, len(units))
	out := make([]corpus.ContentUnit, 0, len(units))
	for _, u := range units {
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}

func touchedSources(units []corpus.ContentUnit) []string {
	seen := make(map[string]struct{})
	var sources []string
	for _, u := range units {
		if _, ok := seen[u.SourcePath]; !ok {
			seen[u.SourcePath] = struct{}{}
			sources = append(sources, u.SourcePath)
		}
	}
	return sources
}

// deletePaired removes ids from both stores concurrently. Ids are counted as
// deleted only when both sides succeed; otherwise they are queued for
// reconciliation and the returned error wraps one ConsistencyError per
// failed side.
func (o *Orchestrator) deletePaired(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		wg                  sync.WaitGroup
		storeErr, ledgerErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		storeErr = o.store.Delete(ctx, ids)
	}()
	go func() {
		defer wg.Done()
		ledgerErr = o.ledger.DeleteIDs(ctx, ids)
	}()
	wg.Wait()

	if storeErr == nil && ledgerErr == nil {
		o.clearPending(ids)
		return len(ids), nil
	}

	var failed []*corpus.ConsistencyError
	if storeErr != nil {
		failed = append(failed, &corpus.ConsistencyError{Side: corpus.SideVector, IDs: ids, Err: storeErr})
	}
	if ledgerErr != nil {
		failed = append(failed, &corpus.ConsistencyError{Side: corpus.SideLedger, IDs: ids, Err: ledgerErr})
	}
	o.addPending(ids)
	o.logger.WarnContext(ctx, "paired delete failed", "sides", corpus.JoinSides(failed...), "ids", len(ids))

	errs := make([]error, len(failed))
	for i, e := range failed {
		errs[i] = e
	}
	return 0, errors.Join(errs...)
}

// Reconcile retries deletes that previously succeeded on only one store. Both
// deletes are idempotent, so repeating the side that already succeeded is
// harmless. It returns how many ids are still pending.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.reconcile(ctx)
}

func (o *Orchestrator) reconcile(ctx context.Context) (int, error) {
	ids := o.pendingIDs()
	if len(ids) == 0 {
		return 0, nil
	}
	o.logger.InfoContext(ctx, "reconciling pending deletes", "ids", len(ids))
	_, err := o.deletePaired(ctx, ids)
	return o.Pending(), err
}

func (o *Orchestrator) addPending(ids []string) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	for _, id := range ids {
		o.pending[id] = struct{}{}
	}
}

func (o *Orchestrator) clearPending(ids []string) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	for _, id := range ids {
		delete(o.pending, id)
	}
}

func (o *Orchestrator) pendingIDs() []string {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	return slices.Sorted(maps.Keys(o.pending))
}

// Pending is the number of ids whose paired delete has not yet succeeded on both sides.
func (o *Orchestrator) Pending() int {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	return len(o.pending)
}

// Exclusive runs fn while no indexing run is in progress.
func (o *Orchestrator) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return fn(ctx)
}

// Replace is Exclusive for callers that swap out the whole corpus. Pending
// deletes refer to the old corpus and are dropped once fn succeeds.
func (o *Orchestrator) Replace(ctx context.Context, fn func(context.Context) error) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if err := fn(ctx); err != nil {
		return err
	}
	o.pendingMu.Lock()
	clear(o.pending)
	o.pendingMu.Unlock()
	return nil
}
