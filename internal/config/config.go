// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.docquery/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model, temperature, context window
//   - Chunking: chunk size, overlap, oversize policy
//   - Index: backend selection and collection name
//   - Storage: PostgreSQL connection (postgres backend only)
//   - Serving: listen address, CORS origins, rate limit burst
//
// Error Handling:
//   - Sentinel errors for Go-idiomatic checking with errors.Is()
//   - Wrapped with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidContextTokens indicates the context window size is out of range.
	ErrInvalidContextTokens = errors.New("invalid max context tokens")

	// ErrInvalidChunking indicates an invalid chunk size / overlap relationship.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidRetry indicates invalid generation retry settings.
	ErrInvalidRetry = errors.New("invalid retry configuration")

	// ErrInvalidIngestion indicates invalid ingestion pipeline settings.
	ErrInvalidIngestion = errors.New("invalid ingestion configuration")

	// ErrInvalidIndexBackend indicates an unknown vector index backend.
	ErrInvalidIndexBackend = errors.New("invalid index backend")

	// ErrInvalidCollection indicates an unusable collection name.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Vector index backend identifiers used in Config.IndexBackend.
const (
	IndexBackendPostgres = "postgres"
	IndexBackendMemory   = "memory"
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality; we request 768 dimensions.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultEmbeddingDimension is the vector dimensionality requested from
	// the embedder and declared at collection creation.
	DefaultEmbeddingDimension = 768

	// DefaultCollection is the vector collection queries run against.
	DefaultCollection = "documents"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`             // "gemini" (default), "ollama", "openai"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`         // Generation model (e.g., "gemini-2.5-flash")
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"` // Embedding model
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`

	// MaxContextTokens is the generation model's combined input+output token
	// capacity, split 50/50 between retrieved context and the answer.
	MaxContextTokens int `mapstructure:"max_context_tokens" json:"max_context_tokens"`

	// Preamble texts prepended to every generation request.
	SystemPrompt    string `mapstructure:"system_prompt" json:"system_prompt"`
	AssistantPrompt string `mapstructure:"assistant_prompt" json:"assistant_prompt"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Chunking configuration
	ChunkSize      int    `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	OversizePolicy string `mapstructure:"oversize_policy" json:"oversize_policy"` // "keep" (default) or "truncate"

	// Ingestion configuration
	EmbedBatchSize int     `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedRPS       float64 `mapstructure:"embed_rps" json:"embed_rps"` // Embedding requests per second (0 = unlimited)
	IngestWorkers  int     `mapstructure:"ingest_workers" json:"ingest_workers"`

	// Retrieval configuration
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Generation retry configuration
	MaxRetries      int `mapstructure:"max_retries" json:"max_retries"`
	RetryIntervalMs int `mapstructure:"retry_interval_ms" json:"retry_interval_ms"`

	// Vector index configuration
	IndexBackend string `mapstructure:"index_backend" json:"index_backend"` // "postgres" (default) or "memory"
	Collection   string `mapstructure:"collection" json:"collection"`
	EmbeddingDim int    `mapstructure:"embedding_dim" json:"embedding_dim"`

	// Storage configuration (see storage.go for helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serving configuration
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`
}

// OTLPConfig configures optional OTLP HTTP trace export.
// Empty Endpoint disables tracing.
type OTLPConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docquery")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings if set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail fast: a bad setup must never reach the pipeline
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("max_context_tokens", 8192)
	viper.SetDefault("system_prompt",
		"You are a helpful assistant. Answer using only the provided context. "+
			"If the context does not contain the answer, say so.")
	viper.SetDefault("assistant_prompt", "")

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Chunking defaults
	viper.SetDefault("chunk_size", 1024)
	viper.SetDefault("chunk_overlap", 128)
	viper.SetDefault("oversize_policy", "keep")

	// Ingestion defaults
	viper.SetDefault("embed_batch_size", 16)
	viper.SetDefault("embed_rps", 5.0)
	viper.SetDefault("ingest_workers", 4)

	// Retrieval defaults
	viper.SetDefault("top_k", 5)

	// Generation retry defaults
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("retry_interval_ms", 1000)

	// Index defaults
	viper.SetDefault("index_backend", IndexBackendPostgres)
	viper.SetDefault("collection", DefaultCollection)
	viper.SetDefault("embedding_dim", DefaultEmbeddingDimension)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "docquery")
	viper.SetDefault("postgres_password", "docquery_dev_password")
	viper.SetDefault("postgres_db_name", "docquery")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Serving defaults
	viper.SetDefault("cors_origins", []string{})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// Observability defaults (empty endpoint = tracing disabled)
	viper.SetDefault("otlp.endpoint", "")
	viper.SetDefault("otlp.service_name", "docquery")
	viper.SetDefault("otlp.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
//
// NOTE: GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit
// provider plugins, not via Viper. Validation checks their presence based on
// the selected provider.
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a panic here is a bug, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "DOCQUERY_PROVIDER")
	mustBind("model_name", "DOCQUERY_MODEL_NAME")
	mustBind("embedder_model", "DOCQUERY_EMBEDDER_MODEL")
	mustBind("ollama_host", "DOCQUERY_OLLAMA_HOST")
	mustBind("index_backend", "DOCQUERY_INDEX_BACKEND")
	mustBind("collection", "DOCQUERY_COLLECTION")
	mustBind("cors_origins", "DOCQUERY_CORS_ORIGINS")
	mustBind("trust_proxy", "DOCQUERY_TRUST_PROXY")
	mustBind("rate_burst", "DOCQUERY_RATE_BURST")
	mustBind("embed_rps", "DOCQUERY_EMBED_RPS")
	mustBind("otlp.endpoint", "OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields for safe logging.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // Avoid recursion
	a := alias(c)
	if a.PostgresPassword != "" {
		a.PostgresPassword = maskedValue
	}
	return json.Marshal(a)
}
