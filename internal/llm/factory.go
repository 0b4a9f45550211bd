package llm

import (
	"fmt"
	"log"
)

// ProviderConfig selects and configures the generation/embedding provider.
type ProviderConfig struct {
	// Provider is "ollama", "openai" or "local" (embeddings only).
	Provider string

	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	EmbeddingDim   int
}

// NewTextGenerator creates the generation collaborator for the configured
// provider. "local" has no generative model, so callers on that provider run
// rule-based extraction only.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	case "local":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbedder creates the embedding collaborator for the configured provider.
// Unknown providers fall back to the local deterministic embedder so the
// memory subsystem keeps working offline.
func NewEmbedder(cfg ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		model := cfg.EmbeddingModel
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: model, BaseURL: cfg.BaseURL, EmbeddingDim: cfg.EmbeddingDim}), nil
	case "ollama", "":
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model, EmbeddingDim: cfg.EmbeddingDim}), nil
	case "local":
		return NewLocalEmbedder(cfg.EmbeddingDim), nil
	default:
		log.Printf("llm: unknown provider %q, using local embedder", cfg.Provider)
		return NewLocalEmbedder(cfg.EmbeddingDim), nil
	}
}
