// Package embed turns text into fixed-dimension vectors via a Genkit
// embedder, with batching and request pacing.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/finchlabs/docquery/internal/log"
)

var (
	// ErrDimensionMismatch indicates the provider returned a vector whose
	// dimensionality disagrees with the configured one. Fatal, never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyEmbedding indicates the provider returned fewer embeddings
	// than inputs, or an empty vector.
	ErrEmptyEmbedding = errors.New("provider returned empty embedding")
)

// Config tunes an Embedder.
type Config struct {
	// Dimension every returned vector must have.
	Dimension int
	// BatchSize is the maximum number of texts per provider request.
	BatchSize int
	// RequestsPerSecond paces provider requests; zero means unlimited.
	RequestsPerSecond float64
	// Options is passed through to the provider on every request, e.g.
	// a *genai.EmbedContentConfig carrying OutputDimensionality.
	Options any
}

// Embedder wraps a Genkit ai.Embedder with batching, pacing and dimension
// enforcement. Output order always matches input order.
type Embedder struct {
	embedder ai.Embedder
	cfg      Config
	limiter  *rate.Limiter
	logger   log.Logger
}

// New creates an Embedder. The Genkit embedder and a positive dimension are
// required; BatchSize defaults to 1.
func New(embedder ai.Embedder, cfg Config, logger log.Logger) (*Embedder, error) {
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: configured dimension %d", ErrDimensionMismatch, cfg.Dimension)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Embedder{
		embedder: embedder,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}, nil
}

// Dimension returns the vector dimensionality the Embedder enforces.
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in provider-sized batches. The i-th vector of the
// result corresponds to the i-th input text. On any error nothing partial is
// returned.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: e.cfg.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: %d inputs, %d embeddings", ErrEmptyEmbedding, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyEmbedding, i)
		}
		if len(emb.Embedding) != e.cfg.Dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb.Embedding), e.cfg.Dimension)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
