package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key validation
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty for the ollama provider", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q, must be one of: gemini, ollama, openai",
			ErrInvalidProvider, c.Provider)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// Context window: enough room for the 50/50 input/output split
	if c.MaxContextTokens < 64 || c.MaxContextTokens > 2097152 {
		return fmt.Errorf("%w: must be between 64 and 2,097,152, got %d",
			ErrInvalidContextTokens, c.MaxContextTokens)
	}

	// 3. Chunking validation: overlap must leave forward progress per chunk
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be non-negative and smaller than chunk_size (%d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}
	if c.OversizePolicy != "keep" && c.OversizePolicy != "truncate" {
		return fmt.Errorf("%w: oversize_policy %q, must be \"keep\" or \"truncate\"",
			ErrInvalidChunking, c.OversizePolicy)
	}

	// 4. Retrieval validation
	if c.TopK <= 0 || c.TopK > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidTopK, c.TopK)
	}

	// 5. Retry validation
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be non-negative, got %d", ErrInvalidRetry, c.MaxRetries)
	}
	if c.RetryIntervalMs < 0 {
		return fmt.Errorf("%w: retry_interval_ms must be non-negative, got %d", ErrInvalidRetry, c.RetryIntervalMs)
	}

	// 6. Ingestion validation
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: embed_batch_size must be positive, got %d", ErrInvalidIngestion, c.EmbedBatchSize)
	}
	if c.EmbedRPS < 0 {
		return fmt.Errorf("%w: embed_rps must be non-negative, got %.2f", ErrInvalidIngestion, c.EmbedRPS)
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("%w: ingest_workers must be positive, got %d", ErrInvalidIngestion, c.IngestWorkers)
	}

	// 7. Index validation
	if c.Collection == "" || !isValidCollectionName(c.Collection) {
		return fmt.Errorf("%w: %q, must be lowercase alphanumeric with underscores",
			ErrInvalidCollection, c.Collection)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive, got %d", ErrInvalidIndexBackend, c.EmbeddingDim)
	}

	switch c.IndexBackend {
	case IndexBackendMemory:
		return nil // No storage configuration needed
	case IndexBackendPostgres:
		return c.validatePostgres()
	default:
		return fmt.Errorf("%w: %q, must be \"postgres\" or \"memory\"",
			ErrInvalidIndexBackend, c.IndexBackend)
	}
}

// validatePostgres checks the PostgreSQL connection settings.
func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}

	if c.PostgresPassword == "docquery_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - deprecated allow/prefer are MITM vulnerable
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// isValidCollectionName reports whether name is safe to interpolate as a
// table or collection identifier. The postgres backend embeds the collection
// name in DDL, so the character set is restricted up front.
func isValidCollectionName(name string) bool {
	if len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return !strings.HasPrefix(name, "pg_")
}
