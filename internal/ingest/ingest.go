// Package ingest turns documents into indexed vector points: chunk, embed,
// upsert. Documents are processed in parallel; a failing document is logged
// and skipped so one bad input never aborts a corpus run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finchlabs/docquery/internal/chunker"
	"github.com/finchlabs/docquery/internal/embed"
	"github.com/finchlabs/docquery/internal/index"
	"github.com/finchlabs/docquery/internal/log"
)

// Embedder is the batch embedding capability the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes a Pipeline.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// Workers bounds how many documents are processed concurrently.
	Workers int
}

// Report summarizes one ingestion run.
type Report struct {
	DocumentsIndexed int
	DocumentsSkipped int
	ChunksIndexed    int
	Duration         time.Duration
}

// Pipeline ingests documents into the vector index.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder Embedder
	idx      index.Index
	cfg      Config
	logger   log.Logger
}

// New creates a Pipeline.
func New(c *chunker.Chunker, embedder Embedder, idx index.Index, cfg Config, logger log.Logger) (*Pipeline, error) {
	if c == nil {
		return nil, errors.New("chunker cannot be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if idx == nil {
		return nil, errors.New("index cannot be nil")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive: %d", cfg.ChunkSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{chunker: c, embedder: embedder, idx: idx, cfg: cfg, logger: logger}, nil
}

// Ingest processes docs concurrently and reports what was indexed.
//
// Per-document failures (chunking, provider errors) are logged and counted
// as skipped. Failures that poison the whole run, a wrong vector
// dimensionality or a missing collection, abort it instead: retrying the
// remaining documents would fail the same way.
func (p *Pipeline) Ingest(ctx context.Context, docs []chunker.Document) (*Report, error) {
	start := time.Now()

	var mu sync.Mutex
	report := &Report{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, doc := range docs {
		g.Go(func() error {
			chunks, err := p.ingestOne(ctx, doc)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.DocumentsIndexed++
				report.ChunksIndexed += chunks
			case fatalIngestError(err):
				return fmt.Errorf("ingest %s: %w", doc.Path, err)
			default:
				report.DocumentsSkipped++
				p.logger.Warn("skipping document", "path", doc.Path, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	p.logger.Info("ingestion complete",
		"indexed", report.DocumentsIndexed,
		"skipped", report.DocumentsSkipped,
		"chunks", report.ChunksIndexed,
		"duration", report.Duration)
	return report, nil
}

// ingestOne chunks, embeds, and upserts a single document, returning the
// number of chunks indexed.
func (p *Pipeline) ingestOne(ctx context.Context, doc chunker.Document) (int, error) {
	chunks, err := p.chunker.Split(doc, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return 0, fmt.Errorf("chunk: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	points := make([]index.Point, len(chunks))
	for i, c := range chunks {
		points[i] = index.Point{
			ID:     pointID(c.Source, i),
			Vector: vectors[i],
			Source: c.Source,
			Text:   c.Text,
		}
	}

	if err := p.idx.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(points), nil
}

// pointID derives a stable 64-bit ID from the source and chunk ordinal, so
// re-ingesting an unchanged document overwrites its own points.
func pointID(source string, ordinal int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s#%d", source, ordinal)
	return int64(h.Sum64())
}

// fatalIngestError reports whether err invalidates the whole run rather
// than a single document.
func fatalIngestError(err error) bool {
	return errors.Is(err, embed.ErrDimensionMismatch) ||
		errors.Is(err, index.ErrDimensionMismatch) ||
		errors.Is(err, index.ErrCollectionNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
