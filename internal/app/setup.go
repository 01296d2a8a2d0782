package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/genai"

	"github.com/finchlabs/docquery/db"
	"github.com/finchlabs/docquery/internal/agent"
	"github.com/finchlabs/docquery/internal/budget"
	"github.com/finchlabs/docquery/internal/chunker"
	"github.com/finchlabs/docquery/internal/config"
	"github.com/finchlabs/docquery/internal/embed"
	"github.com/finchlabs/docquery/internal/generate"
	"github.com/finchlabs/docquery/internal/index"
	"github.com/finchlabs/docquery/internal/ingest"
	"github.com/finchlabs/docquery/internal/log"
	"github.com/finchlabs/docquery/internal/retrieve"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.cleanups = append(a.cleanups, provideOtelShutdown(ctx, cfg, logger))

	if cfg.IndexBackend == config.IndexBackendPostgres {
		pool, err := provideDBPool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.cleanups = append(a.cleanups, pool.Close)
	}

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	rawEmbedder := provideEmbedder(g, cfg)
	if rawEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.RawEmbedder = rawEmbedder

	embedder, err := embed.New(rawEmbedder, embed.Config{
		Dimension:         cfg.EmbeddingDim,
		BatchSize:         cfg.EmbedBatchSize,
		RequestsPerSecond: cfg.EmbedRPS,
		Options:           embedOptions(cfg),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.Embedder = embedder

	idx, err := provideIndex(ctx, cfg, a.Pool, logger)
	if err != nil {
		return nil, err
	}
	a.Index = idx

	retriever, err := retrieve.New(embedder, idx, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever

	// The output allowance caps generation length; it is derived from the
	// same split the agent applies to its input budget.
	budgeter := budget.New(budget.Estimator{})
	_, outputAllowance, err := budgeter.Allocate(cfg.SystemPrompt, cfg.AssistantPrompt, cfg.MaxContextTokens)
	if err != nil {
		return nil, fmt.Errorf("allocating token budget: %w", err)
	}

	generator, err := generate.New(g, qualifiedModelName(cfg), generationConfig(cfg, outputAllowance), generate.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		Interval:   time.Duration(cfg.RetryIntervalMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	a.Generator = generator

	qa, err := agent.New(retriever, generator, budgeter, agent.Config{
		ModelName:        cfg.ModelName,
		SystemPrompt:     cfg.SystemPrompt,
		AssistantPrompt:  cfg.AssistantPrompt,
		TopK:             cfg.TopK,
		MaxContextTokens: cfg.MaxContextTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	a.Agent = qa

	splitter, err := chunker.New(chunker.OversizePolicy(cfg.OversizePolicy))
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	pipeline, err := ingest.New(splitter, embedder, idx, ingest.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Workers:      cfg.IngestWorkers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ingest pipeline: %w", err)
	}
	a.Pipeline = pipeline
	a.Loader = ingest.NewLoader(nil, logger)

	return a, nil
}

// provideOtelShutdown sets up OTLP HTTP trace export before Genkit
// initialization so the TracerProvider is ready when spans start. An empty
// endpoint disables tracing and returns a no-op shutdown.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	otlp := cfg.OTLP
	if otlp.Endpoint == "" {
		return func() {}
	}

	// Set OTEL env vars for Genkit's TracerProvider to pick up.
	// SAFETY: os.Setenv is not concurrent-safe, but this runs exactly once
	// during startup, before goroutines are spawned.
	if otlp.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", otlp.ServiceName)
	}
	if otlp.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+otlp.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(otlp.Endpoint),
		otlptracehttp.WithInsecure(), // collector agents listen on localhost
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("OTLP tracing enabled",
		"endpoint", otlp.Endpoint,
		"service", otlp.ServiceName,
		"environment", otlp.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
// pgvector types are registered on every connection so []float32 vectors
// scan without manual conversion.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // "gemini"
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideIndex creates the configured vector index backend. The memory
// backend has no persistence, so its collection is created eagerly.
func provideIndex(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger log.Logger) (index.Index, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendMemory:
		mem, err := index.NewMemory(cfg.Collection, cfg.EmbeddingDim, logger)
		if err != nil {
			return nil, fmt.Errorf("creating memory index: %w", err)
		}
		if err := mem.CreateCollection(ctx, cfg.EmbeddingDim); err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
		return mem, nil
	default: // "postgres", validated at load time
		pg, err := index.NewPostgres(pool, cfg.Collection, cfg.EmbeddingDim, logger)
		if err != nil {
			return nil, fmt.Errorf("creating postgres index: %w", err)
		}
		return pg, nil
	}
}

// qualifiedModelName prefixes the configured model with its Genkit provider
// namespace, e.g. "gemini-2.5-flash" becomes "googleai/gemini-2.5-flash".
func qualifiedModelName(cfg *config.Config) string {
	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	case config.ProviderOpenAI:
		return "openai/" + cfg.ModelName
	default: // "gemini"
		return "googleai/" + cfg.ModelName
	}
}

// embedOptions returns the provider-specific embedding request options.
// Gemini models emit 3072-dimensional vectors by default and need
// OutputDimensionality to match the collection schema; other providers
// emit their model's native dimension.
func embedOptions(cfg *config.Config) any {
	if cfg.Provider == config.ProviderGemini || cfg.Provider == "" {
		return &genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(cfg.EmbeddingDim)),
		}
	}
	return nil
}

// generationConfig returns the provider-specific generation request config.
// Temperature and the output token cap are applied for gemini; other
// providers fall back to their model defaults.
func generationConfig(cfg *config.Config, outputAllowance int) any {
	if cfg.Provider == config.ProviderGemini || cfg.Provider == "" {
		return &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(cfg.Temperature),
			MaxOutputTokens: int32(outputAllowance),
		}
	}
	return nil
}
