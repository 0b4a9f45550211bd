package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("engine = %s, want sqlite", cfg.Storage.Engine)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.EmbeddingDim != 384 {
		t.Errorf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Extraction.MinImportanceThreshold != 0.4 {
		t.Errorf("threshold = %f, want 0.4", cfg.Extraction.MinImportanceThreshold)
	}
	if cfg.Search.MinScore != 0.65 || cfg.Search.CacheSize != 128 {
		t.Errorf("search defaults = %+v", cfg.Search)
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.yaml")
	content := `
storage:
  engine: postgres
  postgres_dsn: postgres://localhost/council
llm:
  provider: openai
  embedding_dim: 1536
search:
  min_score: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Storage.Engine != "postgres" {
		t.Errorf("engine = %s, want postgres", cfg.Storage.Engine)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.EmbeddingDim != 1536 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Search.MinScore != 0.5 {
		t.Errorf("min score = %f, want 0.5", cfg.Search.MinScore)
	}
	// Untouched sections keep their defaults.
	if cfg.LLM.OllamaURL != "http://localhost:11434" {
		t.Errorf("ollama url = %s, want default", cfg.LLM.OllamaURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "council.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  provider: openai\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("COUNCIL_LLM_PROVIDER", "local")
	t.Setenv("COUNCIL_MIN_IMPORTANCE", "0.6")
	t.Setenv("COUNCIL_USE_GENERATIVE", "false")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.LLM.Provider != "local" {
		t.Errorf("provider = %s, env must win over file", cfg.LLM.Provider)
	}
	if cfg.Extraction.MinImportanceThreshold != 0.6 {
		t.Errorf("threshold = %f, want 0.6", cfg.Extraction.MinImportanceThreshold)
	}
	if cfg.Extraction.UseGenerative {
		t.Error("use_generative must be disabled by env")
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := LoadFile("/nonexistent/council.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidation(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Storage.Engine = "etcd" },
		func(c *Config) { c.Storage.Engine = "postgres"; c.Storage.PostgresDSN = "" },
		func(c *Config) { c.LLM.EmbeddingDim = 0 },
		func(c *Config) { c.Extraction.MinImportanceThreshold = 1.5 },
		func(c *Config) { c.Search.MinScore = -0.1 },
	}
	for i, mutate := range cases {
		cfg := defaults()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
