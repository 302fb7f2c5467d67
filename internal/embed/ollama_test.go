package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quiver-search/quiver/internal/errors"
)

func newOllamaTestServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			embeddings := make([][]float32, len(req.Input))
			for i := range req.Input {
				vec := make([]float32, dims)
				vec[0] = float32(i + 1)
				embeddings[i] = vec
			}
			require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings}))
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	server := newOllamaTestServer(t, 8)
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: server.URL, Model: "nomic-embed-text", Dimensions: 8})
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestOllamaEmbedder_BatchSplitting(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Input), 2)

		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embeddings[i] = make([]float32, 4)
		}
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings}))
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: server.URL, Model: "m", Dimensions: 4, BatchSize: 2})
	defer func() { _ = e.Close() }()

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, 3, requests)
}

func TestOllamaEmbedder_DimensionMismatchIsFatal(t *testing.T) {
	server := newOllamaTestServer(t, 4)
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: server.URL, Model: "m", Dimensions: 768})
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "wrong dims")
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeDimensionMismatch))
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: server.URL, Model: "missing", Dimensions: 4})
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeEmbeddingFailed))
	assert.True(t, qerrors.IsRetryable(err))
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{make([]float32, 4)},
		}))
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: server.URL, Model: "m", Dimensions: 4})
	defer func() { _ = e.Close() }()

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeEmbeddingFailed))
}

func TestOllamaEmbedder_Available(t *testing.T) {
	server := newOllamaTestServer(t, 4)
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: server.URL, Model: "m", Dimensions: 4})
	defer func() { _ = e.Close() }()

	assert.True(t, e.Available(context.Background()))

	server.Close()
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_EmptyBatch(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{Host: "http://localhost:1", Model: "m", Dimensions: 4})
	defer func() { _ = e.Close() }()

	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
