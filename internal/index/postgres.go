package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/finchlabs/docquery/internal/log"
)

// ErrInvalidCollectionName indicates a collection name unsafe to interpolate
// as a SQL identifier.
var ErrInvalidCollectionName = errors.New("invalid collection name")

// Postgres stores points in a pgvector table, one table per collection.
// Similarity is cosine via the <=> operator.
type Postgres struct {
	pool       *pgxpool.Pool
	collection string
	dim        int
	logger     log.Logger

	mu sync.Mutex // serializes upserts
}

// NewPostgres binds a Postgres index to a collection. The collection name is
// interpolated into SQL as an identifier, so it is validated here and the
// constructor fails on anything outside [a-z_][a-z0-9_]*.
func NewPostgres(pool *pgxpool.Pool, collection string, dim int, logger log.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	if !validIdentifier(collection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollectionName, collection)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dim)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, collection: collection, dim: dim, logger: logger}, nil
}

func validIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// CreateCollection drops and recreates the collection table along with its
// HNSW index. Existing points are lost.
func (p *Postgres) CreateCollection(ctx context.Context, dim int) error {
	if dim != p.dim {
		return fmt.Errorf("%w: collection %s declared %d, got %d", ErrDimensionMismatch, p.collection, p.dim, dim)
	}

	stmts := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, p.collection),
		fmt.Sprintf(`CREATE TABLE %s (
			id        BIGINT PRIMARY KEY,
			embedding VECTOR(%d) NOT NULL,
			source    TEXT NOT NULL,
			content   TEXT NOT NULL
		)`, p.collection, dim),
		fmt.Sprintf(`CREATE INDEX %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, p.collection, p.collection),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create collection %s: %w", p.collection, err)
		}
	}

	p.logger.Info("collection created", "collection", p.collection, "dimension", dim)
	return nil
}

// Upsert writes points in a single batch, last write wins per ID. All
// vectors are dimension-checked before any row is written.
func (p *Postgres) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	for _, pt := range points {
		if len(pt.Vector) != p.dim {
			return fmt.Errorf("%w: point %d has %d, collection %s expects %d",
				ErrDimensionMismatch, pt.ID, len(pt.Vector), p.collection, p.dim)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sql := fmt.Sprintf(`INSERT INTO %s (id, embedding, source, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			source    = EXCLUDED.source,
			content   = EXCLUDED.content`, p.collection)

	batch := &pgx.Batch{}
	for _, pt := range points {
		batch.Queue(sql, pt.ID, pgvector.NewVector(pt.Vector), pt.Source, pt.Text)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert into %s: %w", p.collection, p.wrapMissing(err))
		}
	}
	return nil
}

// Search returns up to k points ordered by descending cosine similarity.
func (p *Postgres) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) != p.dim {
		return nil, fmt.Errorf("%w: query has %d, collection %s expects %d",
			ErrDimensionMismatch, len(vector), p.collection, p.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(`SELECT id, source, content, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, p.collection)

	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.collection, p.wrapMissing(err))
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.ID, &h.Source, &h.Text, &score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", p.collection, err)
	}
	return hits, nil
}

// Count returns the number of points in the collection.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.collection)
	if err := p.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", p.collection, p.wrapMissing(err))
	}
	return n, nil
}

// wrapMissing maps undefined-table errors onto ErrCollectionNotFound so
// callers can distinguish "never created" from transport failures.
func (p *Postgres) wrapMissing(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, p.collection)
	}
	return err
}
