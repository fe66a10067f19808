package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docindex.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Parse     ParseConfig     `yaml:"parse"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects which blobs under the root are documents.
type StorageConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// ParseConfig holds extraction configuration.
type ParseConfig struct {
	Mode       string        `yaml:"mode"` // "auto", "ocr", "layout"
	Timeout    time.Duration `yaml:"timeout"`
	PDFCommand string        `yaml:"pdf_command"`
}

// ChunkConfig holds chunking configuration. Sizes are in characters.
type ChunkConfig struct {
	TargetSize int      `yaml:"target_size"`
	Overlap    int      `yaml:"overlap"`
	Separators []string `yaml:"separators"`
}

// IndexConfig holds index maintenance and lexical scoring configuration.
type IndexConfig struct {
	TargetLag  time.Duration `yaml:"target_lag"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	Stopwords  bool          `yaml:"stopwords"`
	K1         float64       `yaml:"k1"`
	B          float64       `yaml:"b"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Provider          string  `yaml:"provider"` // "hash", "openai", "ollama", "jina", "deepseek"
	Model             string  `yaml:"model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	Dimension         int     `yaml:"dimension"` // 0 selects the model default for remote providers
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SearchConfig holds query configuration.
type SearchConfig struct {
	DefaultLimit  int           `yaml:"default_limit"`
	MaxLimit      int           `yaml:"max_limit"`
	RRFK          int           `yaml:"rrf_k"`
	BM25Weight    float64       `yaml:"bm25_weight"`
	MinSimilarity float64       `yaml:"min_similarity"`
	PathBoost     float64       `yaml:"path_boost"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// IngestConfig holds batch pipeline configuration.
type IngestConfig struct {
	Workers int `yaml:"workers"`
}

// ServerConfig holds the query surface configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Includes: []string{"**/*.pdf", "**/*.md", "**/*.markdown", "**/*.txt", "**/*.html", "**/*.htm"},
			Excludes: []string{"**/.git/**", "**/.docindex/**", "**/node_modules/**"},
		},
		Parse: ParseConfig{
			Mode:       "auto",
			Timeout:    30 * time.Second,
			PDFCommand: "pdftotext",
		},
		Chunk: ChunkConfig{
			TargetSize: 1000,
			Overlap:    100,
		},
		Index: IndexConfig{
			TargetLag:  2 * time.Second,
			BatchSize:  64,
			MaxRetries: 3,
			Backoff:    500 * time.Millisecond,
			Stopwords:  true,
			K1:         1.2,
			B:          0.75,
		},
		Embedding: EmbeddingConfig{
			Enabled:           true,
			Provider:          "hash",
			Model:             "feature-hash",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimension:         256,
			BatchSize:         32,
			RequestsPerSecond: 5,
		},
		Search: SearchConfig{
			DefaultLimit:  10,
			MaxLimit:      100,
			RRFK:          60,
			BM25Weight:    0.5,
			MinSimilarity: 0.3,
			PathBoost:     0.2,
			CacheSize:     128,
			CacheTTL:      5 * time.Minute,
		},
		Ingest: IngestConfig{
			Workers: 4,
		},
		Server: ServerConfig{
			Addr: ":8088",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory. It looks for
// docindex.yaml, then .docindex/config.yaml, and loads a .env file from the
// same directory into the environment without overriding existing values.
func LoadFromDir(dir string) (*Config, error) {
	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	for _, path := range []string{
		filepath.Join(dir, "docindex.yaml"),
		filepath.Join(dir, ".docindex", "config.yaml"),
	} {
		if fileExists(path) {
			return Load(path)
		}
	}

	return DefaultConfig(), nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Parse.Mode {
	case "auto", "ocr", "layout":
	default:
		return fmt.Errorf("parse.mode must be auto, ocr or layout, got %q", c.Parse.Mode)
	}
	if c.Chunk.TargetSize <= 0 {
		return fmt.Errorf("chunk.target_size must be positive")
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.TargetSize {
		return fmt.Errorf("chunk.overlap must be in [0, target_size)")
	}
	if c.Index.TargetLag <= 0 {
		return fmt.Errorf("index.target_lag must be positive")
	}
	if c.Index.MaxRetries < 0 {
		return fmt.Errorf("index.max_retries must not be negative")
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("embedding.dimension must not be negative")
	}
	if c.Embedding.Enabled && (c.Embedding.Provider == "" || c.Embedding.Provider == "hash") && c.Embedding.Dimension == 0 {
		return fmt.Errorf("embedding.dimension must be positive for the hash provider")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.default_limit must be positive and not exceed search.max_limit")
	}
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("search.bm25_weight must be in [0, 1]")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive")
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, ".docindex", "index.db")
}

// EnsureDataDir ensures the .docindex directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".docindex"), 0755)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
