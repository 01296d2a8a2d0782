// Package retrieve answers similarity queries by embedding the query text
// and searching the vector index.
package retrieve

import (
	"context"
	"errors"
	"fmt"

	"github.com/finchlabs/docquery/internal/index"
	"github.com/finchlabs/docquery/internal/log"
)

// ErrInvalidTopK indicates a non-positive k.
var ErrInvalidTopK = errors.New("top-k must be positive")

// Embedder is the single-text embedding capability the retriever needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the index capability the retriever needs.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error)
}

// Retriever resolves a query text to its k nearest indexed chunks.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	logger   log.Logger
}

// New creates a Retriever.
func New(embedder Embedder, searcher Searcher, logger log.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if searcher == nil {
		return nil, errors.New("searcher cannot be nil")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{embedder: embedder, searcher: searcher, logger: logger}, nil
}

// Retrieve embeds query and returns up to k hits ordered by descending
// similarity. An empty result is a valid outcome, not an error: the caller
// decides what an unsupported question looks like.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, k)
	}

	vector, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.searcher.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	r.logger.Debug("retrieved chunks", "query_len", len(query), "k", k, "hits", len(hits))
	return hits, nil
}
