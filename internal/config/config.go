// Package config provides configuration for the Council memory subsystem.
// Settings come from three layers: built-in defaults, an optional YAML file,
// and environment variables with the COUNCIL_ prefix. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the memory subsystem.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Search     SearchConfig     `yaml:"search"`
}

// StorageConfig selects and parameterises the persistence backend.
type StorageConfig struct {
	// Engine is "sqlite" or "postgres" (default: sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database file.
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig configures the generation and embedding providers.
type LLMConfig struct {
	// Provider is "ollama", "openai" or "local" (default: ollama).
	Provider string `yaml:"provider"`

	OllamaURL            string `yaml:"ollama_url"`
	OllamaModel          string `yaml:"ollama_model"`
	OllamaEmbeddingModel string `yaml:"ollama_embedding_model"`

	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIModel          string `yaml:"openai_model"`
	OpenAIEmbeddingModel string `yaml:"openai_embedding_model"`

	// EmbeddingDim is the vector dimensionality (default: 384).
	EmbeddingDim int `yaml:"embedding_dim"`

	// EmbedRatePerSecond throttles embedding calls; 0 disables the limiter.
	EmbedRatePerSecond float64 `yaml:"embed_rate_per_second"`
	EmbedBurst         int     `yaml:"embed_burst"`
}

// ExtractionConfig tunes memory extraction.
type ExtractionConfig struct {
	// UseGenerative enables the LLM-assisted extraction path.
	UseGenerative bool `yaml:"use_generative"`

	// MinImportanceThreshold is the rule-based qualification floor.
	MinImportanceThreshold float64 `yaml:"min_importance_threshold"`

	// MaxMemoriesPerConversation caps drafts extracted from one transcript.
	MaxMemoriesPerConversation int `yaml:"max_memories_per_conversation"`
}

// SearchConfig tunes retrieval.
type SearchConfig struct {
	// CacheSize is the per-character search cache capacity.
	CacheSize int `yaml:"cache_size"`

	// MinScore is the default combined-score floor for search results.
	MinScore float64 `yaml:"min_score"`
}

// Load builds a Config from defaults, the YAML file named by COUNCIL_CONFIG
// (when set and present), and COUNCIL_-prefixed environment variables, in
// that order of precedence.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("COUNCIL_CONFIG"))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer; a named but missing file is an error.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would misconfigure the engine.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires a dsn")
	}
	if c.LLM.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding dim must be positive, got %d", c.LLM.EmbeddingDim)
	}
	if c.Extraction.MinImportanceThreshold < 0 || c.Extraction.MinImportanceThreshold > 1 {
		return fmt.Errorf("config: min importance threshold must be in [0, 1], got %f",
			c.Extraction.MinImportanceThreshold)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("config: min score must be in [0, 1], got %f", c.Search.MinScore)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		LLM: LLMConfig{
			Provider:             "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			OpenAIEmbeddingModel: "text-embedding-3-small",
			EmbeddingDim:         384,
			EmbedRatePerSecond:   10,
			EmbedBurst:           5,
		},
		Extraction: ExtractionConfig{
			UseGenerative:              true,
			MinImportanceThreshold:     0.4,
			MaxMemoriesPerConversation: 5,
		},
		Search: SearchConfig{
			CacheSize: 128,
			MinScore:  0.65,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("COUNCIL_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("COUNCIL_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("COUNCIL_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.LLM.Provider = getEnv("COUNCIL_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.OllamaURL = getEnv("COUNCIL_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OllamaModel = getEnv("COUNCIL_OLLAMA_MODEL", cfg.LLM.OllamaModel)
	cfg.LLM.OllamaEmbeddingModel = getEnv("COUNCIL_OLLAMA_EMBEDDING_MODEL", cfg.LLM.OllamaEmbeddingModel)
	cfg.LLM.OpenAIAPIKey = getEnv("COUNCIL_OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIModel = getEnv("COUNCIL_OPENAI_MODEL", cfg.LLM.OpenAIModel)
	cfg.LLM.OpenAIEmbeddingModel = getEnv("COUNCIL_OPENAI_EMBEDDING_MODEL", cfg.LLM.OpenAIEmbeddingModel)
	cfg.LLM.EmbeddingDim = getEnvInt("COUNCIL_EMBEDDING_DIM", cfg.LLM.EmbeddingDim)
	cfg.LLM.EmbedRatePerSecond = getEnvFloat("COUNCIL_EMBED_RATE", cfg.LLM.EmbedRatePerSecond)
	cfg.LLM.EmbedBurst = getEnvInt("COUNCIL_EMBED_BURST", cfg.LLM.EmbedBurst)

	cfg.Extraction.UseGenerative = getEnvBool("COUNCIL_USE_GENERATIVE", cfg.Extraction.UseGenerative)
	cfg.Extraction.MinImportanceThreshold = getEnvFloat("COUNCIL_MIN_IMPORTANCE", cfg.Extraction.MinImportanceThreshold)
	cfg.Extraction.MaxMemoriesPerConversation = getEnvInt("COUNCIL_MAX_MEMORIES", cfg.Extraction.MaxMemoriesPerConversation)

	cfg.Search.CacheSize = getEnvInt("COUNCIL_SEARCH_CACHE_SIZE", cfg.Search.CacheSize)
	cfg.Search.MinScore = getEnvFloat("COUNCIL_SEARCH_MIN_SCORE", cfg.Search.MinScore)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
