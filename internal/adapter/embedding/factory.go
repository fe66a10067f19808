package embedding

import (
	"fmt"

	"docindex/config"
	"docindex/internal/port"
)

// New builds the embedder selected by cfg. It returns nil when embeddings
// are disabled; search then runs on the lexical signal alone.
func New(cfg config.EmbeddingConfig) (port.Embedder, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := []Option{
		WithBatchSize(cfg.BatchSize),
		WithRateLimit(cfg.RequestsPerSecond),
		WithDimension(cfg.Dimension),
	}

	var (
		e   *OpenAIEmbedder
		err error
	)
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		e, err = NewOpenAIEmbedder(cfg.APIKeyEnv, cfg.Model, opts...)
	case "deepseek":
		e, err = NewDeepSeekEmbedder(cfg.APIKeyEnv, cfg.Model, opts...)
	case "jina":
		e, err = NewJinaEmbedder(cfg.APIKeyEnv, cfg.Model, opts...)
	case "ollama":
		e, err = NewOllamaEmbedder(cfg.Model, cfg.BaseURL, opts...)
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("embedding.base_url is required for the custom provider")
		}
		e, err = NewOpenAICompatibleEmbedder(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
