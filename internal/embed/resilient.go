package embed

import (
	"context"

	"github.com/quiver-search/quiver/internal/resilience"
)

// ResilientEmbedder routes provider calls through a resilience executor so
// transient provider failures are retried and sustained outages trip the
// circuit breaker instead of hammering a dead endpoint.
type ResilientEmbedder struct {
	inner Embedder
	exec  *resilience.Executor
}

// Verify interface implementation at compile time.
var _ Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps an embedder with the given executor.
func NewResilientEmbedder(inner Embedder, exec *resilience.Executor) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, exec: exec}
}

// Embed generates an embedding for a single text with retry.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.exec.Execute(ctx, "embed", func(ctx context.Context) error {
		var innerErr error
		vec, innerErr = r.inner.Embed(ctx, text)
		return innerErr
	})
	return vec, err
}

// EmbedBatch generates embeddings for multiple texts with retry.
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := r.exec.Execute(ctx, "embed_batch", func(ctx context.Context) error {
		var innerErr error
		vectors, innerErr = r.inner.EmbedBatch(ctx, texts)
		return innerErr
	})
	return vectors, err
}

// Dimensions returns the inner embedder's dimension.
func (r *ResilientEmbedder) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the inner embedder's model name.
func (r *ResilientEmbedder) ModelName() string { return r.inner.ModelName() }

// ModelVersion returns the inner embedder's model version.
func (r *ResilientEmbedder) ModelVersion() string { return r.inner.ModelVersion() }

// Available delegates to the inner embedder.
func (r *ResilientEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Close closes the inner embedder.
func (r *ResilientEmbedder) Close() error { return r.inner.Close() }
