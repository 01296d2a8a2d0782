// Package index defines the vector index contract and its backends.
//
// An Index stores (vector, payload) points and answers nearest-neighbor
// queries by cosine similarity. Two backends are provided:
//
//   - postgres: pgvector-backed, the durable production store
//   - memory: chromem-go in-process store for local runs and tests
//
// An Index instance is bound to a single collection at construction; the
// binding is an explicitly passed handle, never process-wide state.
package index

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch indicates a vector whose dimensionality disagrees
	// with the collection. Fatal input error, never retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCollectionNotFound indicates the bound collection does not exist yet.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Point is a durable index entry. ID is unique per collection; upserting an
// existing ID overwrites vector and payload (last-write-wins).
type Point struct {
	ID     int64
	Vector []float32
	Source string // Originating document identifier
	Text   string // Chunk text
}

// Hit is one retrieval result. Hits are ordered by descending cosine
// similarity; tie order is backend-assigned.
type Hit struct {
	ID     int64
	Source string
	Text   string
	Score  float32
}

// Index is the vector store boundary.
//
// Implementations serialize concurrent Upsert calls internally; Search is
// safe for concurrent use.
type Index interface {
	// CreateCollection (re)creates the bound collection for vectors of the
	// given dimensionality. Destructive: an existing collection of the same
	// name is dropped. Callers must treat this as data loss on call.
	CreateCollection(ctx context.Context, dim int) error

	// Upsert stores points, overwriting entries with matching IDs.
	// Returns ErrDimensionMismatch if any vector disagrees with the
	// collection's declared dimensionality.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to k hits ordered by descending similarity.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Count returns the number of points in the collection.
	Count(ctx context.Context) (int, error)
}
