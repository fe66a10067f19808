package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunk.TargetSize != 1000 {
		t.Errorf("expected TargetSize=1000, got %d", cfg.Chunk.TargetSize)
	}
	if cfg.Chunk.Overlap != 100 {
		t.Errorf("expected Overlap=100, got %d", cfg.Chunk.Overlap)
	}
	if cfg.Index.K1 != 1.2 {
		t.Errorf("expected K1=1.2, got %f", cfg.Index.K1)
	}
	if cfg.Index.TargetLag != 2*time.Second {
		t.Errorf("expected TargetLag=2s, got %s", cfg.Index.TargetLag)
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("expected DefaultLimit=10, got %d", cfg.Search.DefaultLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docindex.yaml")

	content := `
chunk:
  target_size: 500
  overlap: 50
  separators: ["\n\n", "\n"]
index:
  target_lag: 250ms
search:
  default_limit: 5
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunk.TargetSize != 500 {
		t.Errorf("expected TargetSize=500, got %d", cfg.Chunk.TargetSize)
	}
	if len(cfg.Chunk.Separators) != 2 || cfg.Chunk.Separators[0] != "\n\n" {
		t.Errorf("unexpected separators %q", cfg.Chunk.Separators)
	}
	if cfg.Index.TargetLag != 250*time.Millisecond {
		t.Errorf("expected TargetLag=250ms, got %s", cfg.Index.TargetLag)
	}
	if cfg.Search.DefaultLimit != 5 {
		t.Errorf("expected DefaultLimit=5, got %d", cfg.Search.DefaultLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Ingest.Workers != 4 {
		t.Errorf("expected Workers=4, got %d", cfg.Ingest.Workers)
	}
}

func TestLoad_InvalidOverlap(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docindex.yaml")

	content := `
chunk:
  target_size: 100
  overlap: 100
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected validation error for overlap >= target_size")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Parse.Mode = "vision" }},
		{"zero lag", func(c *Config) { c.Index.TargetLag = 0 }},
		{"limits inverted", func(c *Config) { c.Search.MaxLimit = 1 }},
		{"bm25 weight", func(c *Config) { c.Search.BM25Weight = 2 }},
		{"no workers", func(c *Config) { c.Ingest.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".docindex"), 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, ".docindex", "config.yaml")

	content := `
ingest:
  workers: 8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ingest.Workers != 8 {
		t.Errorf("expected Workers=8, got %d", cfg.Ingest.Workers)
	}
}

func TestLoadFromDir_DotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	key := "DOCINDEX_TEST_DOTENV_KEY"
	t.Cleanup(func() { os.Unsetenv(key) })

	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(key+"=secret\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromDir(tmpDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv(key); got != "secret" {
		t.Errorf("expected .env value to be loaded, got %q", got)
	}
}

func TestIndexDBPath(t *testing.T) {
	path := IndexDBPath("/home/user/docs")
	expected := filepath.Join("/home/user/docs", ".docindex", "index.db")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}
