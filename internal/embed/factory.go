package embed

import (
	"fmt"

	"github.com/quiver-search/quiver/internal/config"
	"github.com/quiver-search/quiver/internal/resilience"
)

// New constructs the configured embedding provider, wrapped with resilience
// and LRU caching.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var inner Embedder

	switch cfg.Provider {
	case config.ProviderStatic:
		inner = NewStaticEmbedder(cfg.Dimensions)
	case config.ProviderOllama:
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}

	exec := resilience.NewExecutor(resilience.DefaultConfig())
	return NewCachedEmbedder(NewResilientEmbedder(inner, exec), cfg.CacheSize), nil
}
