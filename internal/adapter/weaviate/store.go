package weaviate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"corpora/internal/corpus"
	"corpora/internal/provider"
	"corpora/internal/vector"
)

const (
	batchSize = 100
	pageSize  = 500
)

// Store keeps content units in a Weaviate class. Object UUIDs are derived from
// unit ids so re-inserting a unit overwrites rather than duplicates it.
type Store struct {
	client    *weaviate.Client
	schema    *vector.WeaviateClientAdapter
	class     string
	embedder  provider.Embedder
	dims      int
	mu        sync.RWMutex
	threshold float32
}

func NewStore(ctx context.Context, client *weaviate.Client, class string, embedder provider.Embedder, threshold float32) (*Store, error) {
	if err := vector.ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	probe, err := embedder.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return nil, err
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("%w: embedder returned an empty probe vector", corpus.ErrConfiguration)
	}
	return &Store{
		client:    client,
		schema:    vector.NewWeaviateClientAdapter(client),
		class:     class,
		embedder:  embedder,
		dims:      len(probe),
		threshold: threshold,
	}, nil
}

// ObjectID maps a unit id to its deterministic Weaviate UUID.
func ObjectID(unitID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(unitID)).String())
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, s.schema, s.class)
}

func (s *Store) Dimensions() int { return s.dims }

func (s *Store) SetSimilarityThreshold(t float32) error {
	if err := vector.ValidateThreshold(t); err != nil {
		return err
	}
	s.mu.Lock()
	s.threshold = t
	s.mu.Unlock()
	return nil
}

func (s *Store) AddDocuments(ctx context.Context, units []corpus.ContentUnit) error {
	if len(units) == 0 {
		return nil
	}
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = corpus.Render(u.HeaderPath, u.Text)
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(units) {
		return fmt.Errorf("%w: got %d embeddings for %d documents", corpus.ErrProvider, len(vectors), len(units))
	}

	entries := make([]vector.Entry, len(units))
	for i, u := range units {
		if len(vectors[i]) != s.dims {
			return fmt.Errorf("%w: embedding for %s has %d dimensions, store has %d", corpus.ErrConfiguration, u.ID, len(vectors[i]), s.dims)
		}
		entries[i] = vector.Entry{Unit: u, Embedding: vectors[i]}
	}
	return s.putEntries(ctx, entries)
}

func (s *Store) putEntries(ctx context.Context, entries []vector.Entry) error {
	for chunk := range slices.Chunk(entries, batchSize) {
		objects := make([]*models.Object, len(chunk))
		for i, e := range chunk {
			headers := e.Unit.HeaderPath
			if headers == nil {
				headers = []string{}
			}
			objects[i] = &models.Object{
				Class: s.class,
				ID:    ObjectID(e.Unit.ID),
				Properties: map[string]interface{}{
					"unitId":        e.Unit.ID,
					"sourcePath":    e.Unit.SourcePath,
					"sequenceOrder": e.Unit.SequenceOrder,
					"headerPath":    headers,
					"text":          e.Unit.Text,
				},
				Vector: e.Embedding,
			}
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("batch insert: %w", err)
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch insert object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

// Delete removes objects by unit id. Unknown ids match nothing.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	for chunk := range slices.Chunk(ids, batchSize) {
		operands := make([]*filters.WhereBuilder, len(chunk))
		for i, id := range chunk {
			operands[i] = filters.Where().
				WithPath([]string{"unitId"}).
				WithOperator(filters.Equal).
				WithValueText(id)
		}
		_, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(s.class).
			WithOutput("minimal").
			WithWhere(filters.Where().WithOperator(filters.Or).WithOperands(operands)).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
	}
	return nil
}

func unitFields(withVector bool) []graphql.Field {
	additional := []graphql.Field{{Name: "id"}, {Name: "distance"}}
	if withVector {
		additional = append(additional, graphql.Field{Name: "vector"})
	}
	return []graphql.Field{
		{Name: "unitId"},
		{Name: "sourcePath"},
		{Name: "sequenceOrder"},
		{Name: "headerPath"},
		{Name: "text"},
		{Name: "_additional", Fields: additional},
	}
}

// SimilaritySearch asks Weaviate for the k nearest objects and keeps those
// whose cosine similarity (1 - distance) meets the threshold.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]corpus.ScoredUnit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", corpus.ErrConfiguration, k)
	}
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", corpus.ErrConfiguration, len(query), s.dims)
	}

	s.mu.RLock()
	threshold := s.threshold
	s.mu.RUnlock()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(query).
		WithDistance(1 - threshold)

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(unitFields(false)...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var results []corpus.ScoredUnit
	for _, obj := range s.objects(res.Data) {
		unit, additional := decodeUnit(obj)
		distance, _ := additional["distance"].(float64)
		score := float32(1 - distance)
		if score >= threshold {
			results = append(results, corpus.ScoredUnit{Unit: unit, Score: score})
		}
	}

	slices.SortStableFunc(results, func(a, b corpus.ScoredUnit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Unit.ID, b.Unit.ID)
	})
	return results, nil
}

func (s *Store) objects(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[s.class].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func decodeUnit(props map[string]interface{}) (corpus.ContentUnit, map[string]interface{}) {
	var u corpus.ContentUnit
	u.ID, _ = props["unitId"].(string)
	u.SourcePath, _ = props["sourcePath"].(string)
	u.Text, _ = props["text"].(string)
	if seq, ok := props["sequenceOrder"].(float64); ok {
		u.SequenceOrder = int(seq)
	}
	if headers, ok := props["headerPath"].([]interface{}); ok && len(headers) > 0 {
		u.HeaderPath = make([]string, 0, len(headers))
		for _, h := range headers {
			if str, ok := h.(string); ok {
				u.HeaderPath = append(u.HeaderPath, str)
			}
		}
	}
	additional, _ := props["_additional"].(map[string]interface{})
	return u, additional
}

// GetData pages through the class with a cursor and encodes every object in
// the same dump format as the in-memory store.
func (s *Store) GetData(ctx context.Context) ([]byte, error) {
	var (
		entries []vector.Entry
		cursor  string
	)
	for {
		q := s.client.GraphQL().Get().
			WithClassName(s.class).
			WithLimit(pageSize).
			WithFields(unitFields(true)...)
		if cursor != "" {
			q = q.WithAfter(cursor)
		}
		res, err := q.Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
		}

		page := s.objects(res.Data)
		for _, obj := range page {
			unit, additional := decodeUnit(obj)
			raw, _ := additional["vector"].([]interface{})
			embedding := make([]float32, len(raw))
			for i, v := range raw {
				f, _ := v.(float64)
				embedding[i] = float32(f)
			}
			entries = append(entries, vector.Entry{Unit: unit, Embedding: embedding})
			cursor, _ = additional["id"].(string)
		}
		if len(page) < pageSize {
			break
		}
	}
	return vector.EncodeEntries(s.dims, entries)
}

func (s *Store) Validate(ctx context.Context, dump []byte) error {
	_, err := s.decode(dump)
	return err
}

// Restore drops the class, recreates it and reinserts the dump.
func (s *Store) Restore(ctx context.Context, dump []byte) error {
	entries, err := s.decode(dump)
	if err != nil {
		return err
	}

	exists, err := s.schema.ClassExists(ctx, s.class)
	if err != nil {
		return err
	}
	if exists {
		if err := s.schema.DeleteClass(ctx, s.class); err != nil {
			return fmt.Errorf("drop class: %w", err)
		}
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("recreate class: %w", err)
	}
	return s.putEntries(ctx, entries)
}

func (s *Store) decode(dump []byte) ([]vector.Entry, error) {
	dims, entries, err := vector.DecodeEntries(dump)
	if err != nil {
		return nil, err
	}
	if dims != s.dims {
		return nil, fmt.Errorf("%w: dump has %d dimensions, store has %d", corpus.ErrConfiguration, dims, s.dims)
	}
	return entries, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[s.class].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}
