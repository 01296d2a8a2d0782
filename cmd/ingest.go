package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/finchlabs/docquery/internal/app"
	"github.com/finchlabs/docquery/internal/chunker"
	"github.com/finchlabs/docquery/internal/config"
	"github.com/finchlabs/docquery/internal/index"
	"github.com/finchlabs/docquery/internal/ingest"
	"github.com/finchlabs/docquery/internal/log"
)

// ingestOptions holds the parsed ingest command line.
type ingestOptions struct {
	path     string
	recreate bool
	exts     []string
}

// parseIngestArgs parses the ingest command line, supporting:
//   - docquery ingest ./docs
//   - docquery ingest ./docs --recreate
//   - docquery ingest --recreate --ext .md,.txt ./docs
func parseIngestArgs(args []string) (ingestOptions, error) {
	var opts ingestOptions

	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	ingestFlags.BoolVar(&opts.recreate, "recreate", false, "Drop and recreate the collection before indexing")
	extList := ingestFlags.String("ext", "", "Comma-separated extensions to index (default: .md,.txt,...)")

	// Positional form first (docquery ingest ./docs --recreate)
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		opts.path = args[0]
		args = args[1:]
	}

	if err := ingestFlags.Parse(args); err != nil {
		return opts, fmt.Errorf("parsing ingest flags: %w", err)
	}

	if opts.path == "" {
		opts.path = ingestFlags.Arg(0)
	}
	if opts.path == "" {
		return opts, errors.New("usage: docquery ingest <path> [--recreate] [--ext .md,.txt]")
	}

	if *extList != "" {
		for ext := range strings.SplitSeq(*extList, ",") {
			ext = strings.TrimSpace(ext)
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			opts.exts = append(opts.exts, ext)
		}
	}

	return opts, nil
}

// runIngest loads documents from a file or directory and indexes them.
func runIngest(logger log.Logger) error {
	opts, err := parseIngestArgs(os.Args[2:])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if err := ensureCollection(ctx, a, opts.recreate); err != nil {
		return err
	}

	docs, err := loadDocuments(a, opts)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents found to ingest.")
		return nil
	}

	report, err := a.Pipeline.Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("ingesting documents: %w", err)
	}

	fmt.Printf("Indexed %d documents (%d chunks) in %s\n",
		report.DocumentsIndexed, report.ChunksIndexed, report.Duration.Round(time.Millisecond))
	if report.DocumentsSkipped > 0 {
		fmt.Printf("Skipped %d documents; see log for details\n", report.DocumentsSkipped)
	}

	return nil
}

// ensureCollection creates the vector collection when asked to recreate it
// or when it does not exist yet.
func ensureCollection(ctx context.Context, a *app.App, recreate bool) error {
	if recreate {
		if err := a.Index.CreateCollection(ctx, a.Config.EmbeddingDim); err != nil {
			return fmt.Errorf("recreating collection: %w", err)
		}
		return nil
	}

	_, err := a.Index.Count(ctx)
	switch {
	case errors.Is(err, index.ErrCollectionNotFound):
		if err := a.Index.CreateCollection(ctx, a.Config.EmbeddingDim); err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking collection: %w", err)
	default:
		return nil
	}
}

// loadDocuments loads a single file or walks a directory, depending on what
// the path points at.
func loadDocuments(a *app.App, opts ingestOptions) ([]chunker.Document, error) {
	loader := a.Loader
	if len(opts.exts) > 0 {
		loader = ingest.NewLoader(opts.exts, a.Logger)
	}

	info, err := os.Stat(opts.path)
	if err != nil {
		return nil, fmt.Errorf("inspecting path: %w", err)
	}

	if info.IsDir() {
		docs, err := loader.LoadDir(opts.path)
		if err != nil {
			return nil, fmt.Errorf("loading directory: %w", err)
		}
		return docs, nil
	}

	doc, err := loader.LoadFile(opts.path)
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	return []chunker.Document{doc}, nil
}
