package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer func() { _ = e.Close() }()

	a, err := e.Embed(context.Background(), "hybrid retrieval engine")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hybrid retrieval engine")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStaticEmbedder_Dimension(t *testing.T) {
	e := NewStaticEmbedder(128)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Len(t, vec, 128)
	assert.Equal(t, 128, e.Dimensions())
}

func TestStaticEmbedder_NormalizedOutput(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "normalize me please")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestStaticEmbedder_EmptyText(t *testing.T) {
	e := NewStaticEmbedder(32)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	e := NewStaticEmbedder(256)
	defer func() { _ = e.Close() }()

	ctx := context.Background()
	base, err := e.Embed(ctx, "the quick brown fox jumps")
	require.NoError(t, err)
	similar, err := e.Embed(ctx, "the quick brown fox leaps")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "database transaction isolation levels")
	require.NoError(t, err)

	assert.Greater(t, dot(base, similar), dot(base, unrelated))
}

func TestStaticEmbedder_BatchOrder(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer func() { _ = e.Close() }()

	texts := []string{"first", "second", "third"}
	batch, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "batch order must match input order")
	}
}

func TestStaticEmbedder_ClosedRejectsCalls(t *testing.T) {
	e := NewStaticEmbedder(16)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
