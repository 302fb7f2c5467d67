package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiver-search/quiver/internal/embed"
	qerrors "github.com/quiver-search/quiver/internal/errors"
	"github.com/quiver-search/quiver/internal/index"
	"github.com/quiver-search/quiver/internal/resilience"
	"github.com/quiver-search/quiver/internal/store"
)

// fakeMetaStore serves lexical hits and hydration rows from memory.
type fakeMetaStore struct {
	lexical []store.LexicalResult
	rows    map[int64]store.HydratedChunk

	lexicalLimit int
}

func (f *fakeMetaStore) EnsureSchema(ctx context.Context) error { return nil }
func (f *fakeMetaStore) DocumentExists(ctx context.Context, docID string) (bool, error) {
	return false, nil
}
func (f *fakeMetaStore) GetDocument(ctx context.Context, docID string) (*store.Document, error) {
	return nil, qerrors.Newf(qerrors.ErrCodeDocumentNotFound, "document not found: %s", docID)
}
func (f *fakeMetaStore) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return nil, nil
}
func (f *fakeMetaStore) DeleteDocument(ctx context.Context, docID string) error { return nil }
func (f *fakeMetaStore) DocumentCount(ctx context.Context) (int, error)         { return 0, nil }
func (f *fakeMetaStore) ChunkCount(ctx context.Context, docID string) (int, error) {
	return 0, nil
}

func (f *fakeMetaStore) GetChunks(ctx context.Context, chunkIDs []int64) ([]store.HydratedChunk, error) {
	var out []store.HydratedChunk
	for _, id := range chunkIDs {
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeMetaStore) GetChunksByDocument(ctx context.Context, docID string) ([]store.Chunk, error) {
	return nil, nil
}

func (f *fakeMetaStore) LexicalSearch(ctx context.Context, query string, limit int) ([]store.LexicalResult, error) {
	f.lexicalLimit = limit
	return f.lexical, nil
}

func (f *fakeMetaStore) Begin(ctx context.Context) (store.IngestTx, error) { return nil, nil }
func (f *fakeMetaStore) Healthy(ctx context.Context) bool                  { return true }
func (f *fakeMetaStore) Close() error                                      { return nil }

// countingIndex records the topK requested from the vector channel.
type countingIndex struct {
	index.VectorIndex
	requested int
}

func (c *countingIndex) Search(ctx context.Context, query []float32, topK int) ([]index.Candidate, error) {
	c.requested = topK
	return c.VectorIndex.Search(ctx, query, topK)
}

type engineFixture struct {
	engine   *Engine
	store    *fakeMetaStore
	index    *countingIndex
	embedder *embed.StaticEmbedder
}

func newEngineFixture(t *testing.T, reranker Reranker) *engineFixture {
	t.Helper()

	emb := embed.NewStaticEmbedder(64)
	t.Cleanup(func() { _ = emb.Close() })

	graph, err := index.NewGraphIndex(index.GraphConfig{Dimensions: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = graph.Close() })

	st := &fakeMetaStore{rows: make(map[int64]store.HydratedChunk)}
	idx := &countingIndex{VectorIndex: graph}

	engine := NewEngine(st, idx, emb, reranker, nil, nil, nil, Config{
		Alpha:         0.7,
		Oversample:    3,
		SnippetLength: 500,
		DefaultTopK:   5,
		MaxTopK:       50,
	})
	return &engineFixture{engine: engine, store: st, index: idx, embedder: emb}
}

// seed indexes texts as chunks of one document and registers hydration rows.
func (fx *engineFixture) seed(t *testing.T, docID string, texts []string) []int64 {
	t.Helper()
	ctx := context.Background()

	vectors, err := fx.embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	chunkIDs := make([]int64, len(texts))
	metas := make([]index.VectorMeta, len(texts))
	for i, text := range texts {
		chunkIDs[i] = int64(i + 1)
		metas[i] = index.VectorMeta{ChunkID: chunkIDs[i], DocID: docID, Snippet: text}
		fx.store.rows[chunkIDs[i]] = store.HydratedChunk{
			ChunkID:  chunkIDs[i],
			DocID:    docID,
			Title:    "Test Document",
			Text:     text,
			Metadata: map[string]string{},
		}
	}
	_, err = fx.index.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)
	return chunkIDs
}

func TestEngine_VectorSearch(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.seed(t, "d1", []string{
		"the quick brown fox jumps over the lazy dog",
		"database transaction isolation levels explained",
		"container orchestration with declarative manifests",
	})

	results, err := fx.engine.Search(context.Background(), "quick brown fox", Options{TopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, int64(1), results[0].ChunkID)
	assert.Equal(t, "d1", results[0].DocID)
	assert.Equal(t, "Test Document", results[0].Title)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestEngine_HybridMergesLexicalChannel(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.seed(t, "d1", []string{
		"the quick brown fox jumps over the lazy dog",
		"database transaction isolation levels explained",
	})
	// Chunk 2 gets a strong lexical hit the vector channel would rank low.
	fx.store.lexical = []store.LexicalResult{{ChunkID: 2, Score: 0.9}}

	results, err := fx.engine.Search(context.Background(), "quick fox", Options{TopK: 5, Hybrid: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	found := false
	for _, r := range results {
		if r.ChunkID == 2 {
			found = true
		}
	}
	assert.True(t, found, "lexical-only hit must survive fusion")
}

func TestEngine_OversamplesCandidateChannels(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.seed(t, "d1", []string{"some indexed content here"})

	_, err := fx.engine.Search(context.Background(), "content",
		Options{TopK: 5, Hybrid: true, Rerank: true})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, fx.index.requested, 15,
		"vector channel must be oversampled before fusion/rerank")
	assert.GreaterOrEqual(t, fx.store.lexicalLimit, 15,
		"lexical channel must be oversampled before fusion/rerank")
}

func TestEngine_EmptyQueryRejected(t *testing.T) {
	fx := newEngineFixture(t, nil)

	_, err := fx.engine.Search(context.Background(), "   ", Options{})
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeQueryEmpty))
}

func TestEngine_TopKBounds(t *testing.T) {
	fx := newEngineFixture(t, nil)

	_, err := fx.engine.Search(context.Background(), "query", Options{TopK: 51})
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeInvalidInput))

	_, err = fx.engine.Search(context.Background(), "query", Options{TopK: -1})
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeInvalidInput))
}

func TestEngine_EmptyIndexReturnsNoResults(t *testing.T) {
	fx := newEngineFixture(t, nil)

	results, err := fx.engine.Search(context.Background(), "anything", Options{TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_SnippetTruncation(t *testing.T) {
	fx := newEngineFixture(t, nil)
	long := strings.Repeat("lengthy paragraph of searchable text ", 30)
	fx.seed(t, "d1", []string{long})

	results, err := fx.engine.Search(context.Background(), "searchable text", Options{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, len([]rune(results[0].Snippet)), 500)
}

func TestEngine_RerankReorders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Score texts by length so the longest candidate wins.
		scores := make([]float64, len(req.Texts))
		for i, text := range req.Texts {
			scores[i] = float64(len(text))
		}
		require.NoError(t, json.NewEncoder(w).Encode(rerankResponse{Scores: scores}))
	}))
	defer server.Close()

	reranker := NewHTTPReranker(server.URL, resilience.NewExecutor(resilience.DefaultConfig()))
	fx := newEngineFixture(t, reranker)
	fx.seed(t, "d1", []string{
		"fox",
		"the quick brown fox jumps over the lazy dog and keeps running",
		"quick fox",
	})

	results, err := fx.engine.Search(context.Background(), "fox",
		Options{TopK: 1, Rerank: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ChunkID, "reranker ordering must win")
}

func TestEngine_RerankFailureDegradesGracefully(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	reranker := NewHTTPReranker(server.URL, resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: 1,
	}))
	fx := newEngineFixture(t, reranker)
	fx.seed(t, "d1", []string{
		"the quick brown fox jumps",
		"unrelated database content",
	})

	results, err := fx.engine.Search(context.Background(), "quick fox",
		Options{TopK: 1, Rerank: true})
	require.NoError(t, err, "rerank failure must not fail the query")
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ChunkID)
}
