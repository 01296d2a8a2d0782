package config

import (
	"errors"
	"testing"
)

// validBaseConfig returns a Config with all required fields set for the
// given provider.
func validBaseConfig(provider string) *Config {
	cfg := &Config{
		Provider:         provider,
		ModelName:        "gemini-2.5-flash",
		EmbedderModel:    DefaultGeminiEmbedderModel,
		Temperature:      0.2,
		MaxContextTokens: 8192,
		ChunkSize:        1024,
		ChunkOverlap:     128,
		OversizePolicy:   "keep",
		EmbedBatchSize:   16,
		EmbedRPS:         5,
		IngestWorkers:    4,
		TopK:             5,
		MaxRetries:       2,
		RetryIntervalMs:  500,
		IndexBackend:     IndexBackendPostgres,
		Collection:       DefaultCollection,
		EmbeddingDim:     DefaultEmbeddingDimension,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "docquery",
		PostgresPassword: "test_password",
		PostgresDBName:   "docquery",
		PostgresSSLMode:  "disable",
	}
	switch provider {
	case ProviderOllama:
		cfg.ModelName = "llama3.2"
		cfg.EmbedderModel = "nomic-embed-text"
		cfg.OllamaHost = "http://localhost:11434"
	case ProviderOpenAI:
		cfg.ModelName = "gpt-4o-mini"
		cfg.EmbedderModel = "text-embedding-3-small"
	}
	return cfg
}

// setEnvForProvider sets the required API key for the given provider.
func setEnvForProvider(t *testing.T, provider string) {
	t.Helper()
	switch provider {
	case ProviderGemini:
		t.Setenv("GEMINI_API_KEY", "test-api-key")
	case ProviderOpenAI:
		t.Setenv("OPENAI_API_KEY", "test-openai-key")
	}
}

func TestValidateSuccess(t *testing.T) {
	for _, provider := range []string{ProviderGemini, ProviderOllama, ProviderOpenAI} {
		t.Run(provider, func(t *testing.T) {
			setEnvForProvider(t, provider)

			cfg := validBaseConfig(provider)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error with valid config (provider %q): %v", provider, err)
			}
		})
	}
}

func TestValidateMemoryBackendNeedsNoStorage(t *testing.T) {
	setEnvForProvider(t, ProviderGemini)

	cfg := validBaseConfig(ProviderGemini)
	cfg.IndexBackend = IndexBackendMemory
	cfg.PostgresHost = ""
	cfg.PostgresPassword = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with memory backend error = %v, want nil", err)
	}
}

func TestValidateNilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil config = %v, want ErrConfigNil", err)
	}
}

func TestValidateProviderAPIKey(t *testing.T) {
	t.Run("gemini missing key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		cfg := validBaseConfig(ProviderGemini)
		if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("Validate() = %v, want ErrMissingAPIKey", err)
		}
	})

	t.Run("openai missing key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		cfg := validBaseConfig(ProviderOpenAI)
		if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("Validate() = %v, want ErrMissingAPIKey", err)
		}
	})

	t.Run("ollama needs no key but needs host", func(t *testing.T) {
		cfg := validBaseConfig(ProviderOllama)
		cfg.OllamaHost = ""
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidProvider) {
			t.Errorf("Validate() = %v, want ErrInvalidProvider", err)
		}
	})
}

func TestValidateFieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "unsupported provider",
			mutate:  func(c *Config) { c.Provider = "anthropic" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "" },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "empty embedder model",
			mutate:  func(c *Config) { c.EmbedderModel = "" },
			wantErr: ErrInvalidEmbedderModel,
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.Temperature = 2.5 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "temperature negative",
			mutate:  func(c *Config) { c.Temperature = -0.1 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "context window too small",
			mutate:  func(c *Config) { c.MaxContextTokens = 32 },
			wantErr: ErrInvalidContextTokens,
		},
		{
			name:    "zero chunk size",
			mutate:  func(c *Config) { c.ChunkSize = 0 },
			wantErr: ErrInvalidChunking,
		},
		{
			name:    "overlap equals chunk size",
			mutate:  func(c *Config) { c.ChunkOverlap = c.ChunkSize },
			wantErr: ErrInvalidChunking,
		},
		{
			name:    "unknown oversize policy",
			mutate:  func(c *Config) { c.OversizePolicy = "drop" },
			wantErr: ErrInvalidChunking,
		},
		{
			name:    "zero embed batch size",
			mutate:  func(c *Config) { c.EmbedBatchSize = 0 },
			wantErr: ErrInvalidIngestion,
		},
		{
			name:    "negative embed rps",
			mutate:  func(c *Config) { c.EmbedRPS = -1 },
			wantErr: ErrInvalidIngestion,
		},
		{
			name:    "zero ingest workers",
			mutate:  func(c *Config) { c.IngestWorkers = 0 },
			wantErr: ErrInvalidIngestion,
		},
		{
			name:    "zero top-k",
			mutate:  func(c *Config) { c.TopK = 0 },
			wantErr: ErrInvalidTopK,
		},
		{
			name:    "top-k too large",
			mutate:  func(c *Config) { c.TopK = 101 },
			wantErr: ErrInvalidTopK,
		},
		{
			name:    "negative max retries",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: ErrInvalidRetry,
		},
		{
			name:    "negative retry interval",
			mutate:  func(c *Config) { c.RetryIntervalMs = -1 },
			wantErr: ErrInvalidRetry,
		},
		{
			name:    "empty collection",
			mutate:  func(c *Config) { c.Collection = "" },
			wantErr: ErrInvalidCollection,
		},
		{
			name:    "unsafe collection name",
			mutate:  func(c *Config) { c.Collection = "docs; DROP TABLE" },
			wantErr: ErrInvalidCollection,
		},
		{
			name:    "zero embedding dimension",
			mutate:  func(c *Config) { c.EmbeddingDim = 0 },
			wantErr: ErrInvalidIndexBackend,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.IndexBackend = "redis" },
			wantErr: ErrInvalidIndexBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvForProvider(t, ProviderGemini)

			cfg := validBaseConfig(ProviderGemini)
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePostgres(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.PostgresHost = "" },
			wantErr: ErrInvalidPostgresHost,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.PostgresPort = 70000 },
			wantErr: ErrInvalidPostgresPort,
		},
		{
			name:    "empty database name",
			mutate:  func(c *Config) { c.PostgresDBName = "" },
			wantErr: ErrInvalidPostgresDBName,
		},
		{
			name:    "empty password",
			mutate:  func(c *Config) { c.PostgresPassword = "" },
			wantErr: ErrInvalidPostgresPassword,
		},
		{
			name:    "short password",
			mutate:  func(c *Config) { c.PostgresPassword = "short" },
			wantErr: ErrInvalidPostgresPassword,
		},
		{
			name:    "deprecated ssl mode",
			mutate:  func(c *Config) { c.PostgresSSLMode = "prefer" },
			wantErr: ErrInvalidPostgresSSLMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvForProvider(t, ProviderGemini)

			cfg := validBaseConfig(ProviderGemini)
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsValidCollectionName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "simple", input: "documents", want: true},
		{name: "underscores", input: "my_docs_v2", want: true},
		{name: "leading digit", input: "2docs", want: false},
		{name: "uppercase", input: "Documents", want: false},
		{name: "hyphen", input: "my-docs", want: false},
		{name: "pg reserved prefix", input: "pg_docs", want: false},
		{name: "too long", input: string(make([]byte, 64)), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidCollectionName(tt.input); got != tt.want {
				t.Errorf("isValidCollectionName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
