// Package app assembles the document query pipeline from configuration.
//
// App is the dependency container shared by all CLI commands. Setup wires
// the full chain in order: tracing, storage, Genkit provider, embedder,
// vector index, retriever, generator, agent and ingestion pipeline. Each
// component receives its dependencies explicitly; nothing reaches for
// globals.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finchlabs/docquery/internal/agent"
	"github.com/finchlabs/docquery/internal/config"
	"github.com/finchlabs/docquery/internal/embed"
	"github.com/finchlabs/docquery/internal/generate"
	"github.com/finchlabs/docquery/internal/index"
	"github.com/finchlabs/docquery/internal/ingest"
	"github.com/finchlabs/docquery/internal/log"
	"github.com/finchlabs/docquery/internal/retrieve"
)

// App is the application container. Fields are populated by Setup and are
// read-only afterwards.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit      *genkit.Genkit
	RawEmbedder ai.Embedder
	Pool        *pgxpool.Pool // nil for the memory backend

	Index     index.Index
	Embedder  *embed.Embedder
	Retriever *retrieve.Retriever
	Generator *generate.Generator
	Agent     *agent.Agent
	Pipeline  *ingest.Pipeline
	Loader    *ingest.Loader

	// cleanups run in reverse registration order on Close.
	cleanups []func()
}

// Close releases all resources acquired during Setup.
// Safe to call on a partially constructed App.
func (a *App) Close() error {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
	return nil
}
