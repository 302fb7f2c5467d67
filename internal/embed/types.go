// Package embed provides the embedding provider contract and its
// implementations: an Ollama HTTP client, a deterministic hash-based
// fallback, and caching/resilience wrappers.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default number of texts per provider call.
	DefaultBatchSize = 32

	// MaxBatchSize bounds a single provider call to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the default timeout for a provider call.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions is the default embedding dimension.
	DefaultDimensions = 768

	// DefaultCacheSize is the default LRU embedding cache capacity.
	DefaultCacheSize = 1000
)

// Embedder generates vector embeddings for text. Implementations must fail
// loudly on dimension disagreement rather than truncate or pad.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// ModelVersion returns the model version recorded as chunk provenance.
	ModelVersion() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
