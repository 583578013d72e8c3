package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"corpora/internal/corpus"
)

// PostgresRepo stores the ledger in index_records. Both Now and the upsert
// stamp use clock_timestamp() so run start times and record times come from
// the same clock.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := r.db.QueryRowContext(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read ledger clock: %w", err)
	}
	return now, nil
}

func (r *PostgresRepo) Exists(ctx context.Context, ids []string) ([]bool, error) {
	out := make([]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM index_records WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query existing records: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		out[i] = found[id]
	}
	return out, nil
}

func (r *PostgresRepo) Update(ctx context.Context, records []corpus.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	sources := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		sources[i] = rec.SourcePath
	}

	query := `
		INSERT INTO index_records (id, source_path, indexed_at)
		SELECT u.id, u.source_path, clock_timestamp()
		FROM unnest($1::text[], $2::text[]) AS u(id, source_path)
		ON CONFLICT (id) DO UPDATE SET source_path = EXCLUDED.source_path, indexed_at = EXCLUDED.indexed_at
	`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), pq.Array(sources)); err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}
	return nil
}

func (r *PostgresRepo) IDsToDelete(ctx context.Context, filter corpus.DeleteFilter) ([]string, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	var (
		query string
		args  []any
	)
	switch {
	case filter.HasTime() && filter.SourcesSet:
		query = `SELECT id FROM index_records WHERE indexed_at < $1 AND source_path = ANY($2) ORDER BY id`
		args = []any{filter.IndexedBefore, pq.Array(filter.Sources)}
	case filter.HasTime():
		query = `SELECT id FROM index_records WHERE indexed_at < $1 ORDER BY id`
		args = []any{filter.IndexedBefore}
	default:
		query = `SELECT id FROM index_records WHERE source_path = ANY($1) ORDER BY id`
		args = []any{pq.Array(filter.Sources)}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM index_records WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetData(ctx context.Context) ([]byte, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, source_path, indexed_at FROM index_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("dump records: %w", err)
	}
	defer rows.Close()

	var records []corpus.IndexRecord
	for rows.Next() {
		var rec corpus.IndexRecord
		if err := rows.Scan(&rec.ID, &rec.SourcePath, &rec.IndexedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return encodeDump(records)
}

// Validate decodes a ledger dump without applying it.
func (r *PostgresRepo) Validate(ctx context.Context, dump []byte) error {
	_, err := decodeDump(dump)
	return err
}

func (r *PostgresRepo) Restore(ctx context.Context, dump []byte) error {
	records, err := decodeDump(dump)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_records (id, source_path, indexed_at) VALUES ($1, $2, $3)`,
			rec.ID, rec.SourcePath, rec.IndexedAt); err != nil {
			return fmt.Errorf("restore record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_records`).Scan(&count)
	return count, err
}
