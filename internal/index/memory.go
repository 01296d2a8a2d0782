package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/finchlabs/docquery/internal/log"
)

// Memory is an in-process chromem-go backed index. It holds everything in
// RAM and is intended for local runs and tests; durability comes from the
// Postgres backend.
type Memory struct {
	db         *chromem.DB
	collection string
	dim        int
	logger     log.Logger

	mu  sync.Mutex // serializes upserts and guards col
	col *chromem.Collection
}

// NewMemory binds an in-memory index to a collection name.
func NewMemory(collection string, dim int, logger log.Logger) (*Memory, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidCollectionName)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Memory{db: chromem.NewDB(), collection: collection, dim: dim, logger: logger}, nil
}

// noEmbed satisfies chromem's embedding hook. Every document we add carries
// a precomputed vector, so this must never run.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings are computed upstream")
}

// CreateCollection (re)creates the collection, dropping existing points.
func (m *Memory) CreateCollection(_ context.Context, dim int) error {
	if dim != m.dim {
		return fmt.Errorf("%w: collection %s declared %d, got %d", ErrDimensionMismatch, m.collection, m.dim, dim)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.DeleteCollection(m.collection); err != nil {
		return fmt.Errorf("drop collection %s: %w", m.collection, err)
	}
	col, err := m.db.CreateCollection(m.collection, nil, noEmbed)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", m.collection, err)
	}
	m.col = col

	m.logger.Info("collection created", "collection", m.collection, "dimension", dim)
	return nil
}

// Upsert stores points, overwriting entries with matching IDs.
func (m *Memory) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	for _, pt := range points {
		if len(pt.Vector) != m.dim {
			return fmt.Errorf("%w: point %d has %d, collection %s expects %d",
				ErrDimensionMismatch, pt.ID, len(pt.Vector), m.collection, m.dim)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	col, err := m.boundCollection()
	if err != nil {
		return err
	}
	for _, pt := range points {
		id := strconv.FormatInt(pt.ID, 10)
		// Drop any previous version first so repeated IDs replace rather
		// than accumulate.
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("replace point %d: %w", pt.ID, err)
		}
		doc := chromem.Document{
			ID:        id,
			Embedding: pt.Vector,
			Content:   pt.Text,
			Metadata:  map[string]string{"source": pt.Source},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("upsert point %d: %w", pt.ID, err)
		}
	}
	return nil
}

// Search returns up to k hits ordered by descending cosine similarity.
func (m *Memory) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, collection %s expects %d",
			ErrDimensionMismatch, len(vector), m.collection, m.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	col, err := m.boundCollection()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// chromem rejects queries asking for more results than stored points.
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", m.collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse point id %q: %w", r.ID, err)
		}
		hits = append(hits, Hit{
			ID:     id,
			Source: r.Metadata["source"],
			Text:   r.Content,
			Score:  r.Similarity,
		})
	}
	return hits, nil
}

// Count returns the number of points in the collection.
func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	col, err := m.boundCollection()
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// boundCollection resolves the collection handle, surviving handles created
// before CreateCollection was called in-process. Callers hold m.mu.
func (m *Memory) boundCollection() (*chromem.Collection, error) {
	if m.col != nil {
		return m.col, nil
	}
	if col := m.db.GetCollection(m.collection, noEmbed); col != nil {
		m.col = col
		return col, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, m.collection)
}
