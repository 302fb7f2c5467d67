package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quiver-search/quiver/internal/errors"
)

func newTestGraph(t *testing.T, path string) *GraphIndex {
	t.Helper()
	g, err := NewGraphIndex(GraphConfig{
		Path:       path,
		Dimensions: 4,
		M:          8,
		EfSearch:   16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func testVectors() ([][]float32, []VectorMeta) {
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	metas := []VectorMeta{
		{ChunkID: 101, DocID: "doc-a", Snippet: "first chunk"},
		{ChunkID: 102, DocID: "doc-a", Snippet: "second chunk"},
		{ChunkID: 103, DocID: "doc-b", Snippet: "third chunk"},
	}
	return vectors, metas
}

func TestGraphIndex_AddAndSearch(t *testing.T) {
	g := newTestGraph(t, "")
	ctx := context.Background()

	vectors, metas := testVectors()
	ids, err := g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, ids)

	results, err := g.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(101), results[0].ChunkID)
	// Exact match: distance 0, score 1.
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
}

func TestGraphIndex_ScoreUsesSquaredDistance(t *testing.T) {
	g := newTestGraph(t, "")
	ctx := context.Background()

	_, err := g.AddVectors(ctx,
		[][]float32{{2, 0, 0, 0}},
		[]VectorMeta{{ChunkID: 101, DocID: "doc-a"}})
	require.NoError(t, err)

	results, err := g.Search(ctx, []float32{0, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// L2 distance 2, squared 4: score 1/(1+4).
	assert.InDelta(t, 0.2, float64(results[0].Score), 1e-6)
}

func TestGraphIndex_SearchEmptyIndex(t *testing.T) {
	g := newTestGraph(t, "")

	results, err := g.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGraphIndex_DimensionMismatchFailsWholeBatch(t *testing.T) {
	g := newTestGraph(t, "")
	ctx := context.Background()

	vectors := [][]float32{
		{1, 0, 0, 0},
		{1, 0, 0}, // wrong dimension
	}
	metas := []VectorMeta{
		{ChunkID: 101, DocID: "doc-a"},
		{ChunkID: 102, DocID: "doc-a"},
	}

	_, err := g.AddVectors(ctx, vectors, metas)
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeDimensionMismatch))

	count, err := g.VectorCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a failed batch must not partially insert")
}

func TestGraphIndex_QueryDimensionMismatch(t *testing.T) {
	g := newTestGraph(t, "")

	_, err := g.Search(context.Background(), []float32{1, 0}, 5)
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeDimensionMismatch))
}

func TestGraphIndex_LengthMismatch(t *testing.T) {
	g := newTestGraph(t, "")

	_, err := g.AddVectors(context.Background(), [][]float32{{1, 0, 0, 0}}, nil)
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeInvalidInput))
}

func TestGraphIndex_DeletedVectorsNeverReturned(t *testing.T) {
	g := newTestGraph(t, "")
	ctx := context.Background()

	vectors, metas := testVectors()
	ids, err := g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)

	// Tombstone the exact match for the query below.
	require.NoError(t, g.DeleteVectors(ctx, []uint64{ids[0]}))

	results, err := g.Search(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, int64(101), r.ChunkID, "deleted vector leaked into results")
	}
}

func TestGraphIndex_DeleteIsIdempotent(t *testing.T) {
	g := newTestGraph(t, "")
	ctx := context.Background()

	vectors, metas := testVectors()
	ids, err := g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)

	require.NoError(t, g.DeleteVectors(ctx, []uint64{ids[1]}))
	require.NoError(t, g.DeleteVectors(ctx, []uint64{ids[1], 999}))

	count, err := g.VectorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGraphIndex_IDsNeverReused(t *testing.T) {
	g := newTestGraph(t, "")
	ctx := context.Background()

	vectors, metas := testVectors()
	ids, err := g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)
	require.NoError(t, g.DeleteVectors(ctx, ids))

	moreIDs, err := g.AddVectors(ctx,
		[][]float32{{0, 0, 0, 1}},
		[]VectorMeta{{ChunkID: 104, DocID: "doc-c"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), moreIDs[0], "ids must stay monotonic after deletion")
}

func TestGraphIndex_RemoveDocument(t *testing.T) {
	g := newTestGraph(t, "")
	ctx := context.Background()

	vectors, metas := testVectors()
	_, err := g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)

	require.NoError(t, g.RemoveDocument(ctx, "doc-a"))

	count, err := g.VectorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := g.Search(ctx, []float32{0, 1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(103), results[0].ChunkID)
}

func TestGraphIndex_PersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	g := newTestGraph(t, dir)
	vectors, metas := testVectors()
	ids, err := g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)
	require.NoError(t, g.DeleteVectors(ctx, []uint64{ids[2]}))
	require.NoError(t, g.Save(ctx))
	require.NoError(t, g.Close())

	reopened := newTestGraph(t, dir)
	require.NoError(t, reopened.Load(ctx))

	count, err := reopened.VectorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "tombstones must survive a reload")

	results, err := reopened.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(102), results[0].ChunkID)
	assert.Equal(t, "second chunk", metas[1].Snippet)

	// The id counter continues where it left off.
	moreIDs, err := reopened.AddVectors(ctx,
		[][]float32{{0, 0, 0, 1}},
		[]VectorMeta{{ChunkID: 104, DocID: "doc-c"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), moreIDs[0])
}

func TestGraphIndex_LoadMissingFilesStartsEmpty(t *testing.T) {
	g := newTestGraph(t, t.TempDir())
	require.NoError(t, g.Load(context.Background()))

	count, err := g.VectorCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGraphIndex_LoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	g := newTestGraph(t, dir)
	vectors, metas := testVectors()
	_, err := g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)
	require.NoError(t, g.Save(ctx))
	require.NoError(t, g.Close())

	wrong, err := NewGraphIndex(GraphConfig{Path: dir, Dimensions: 8})
	require.NoError(t, err)
	defer func() { _ = wrong.Close() }()

	err = wrong.Load(ctx)
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeDimensionMismatch))
}

func TestGraphIndex_Checkpointing(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGraphIndex(GraphConfig{
		Path:            dir,
		Dimensions:      4,
		CheckpointEvery: 2,
	})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	ctx := context.Background()
	vectors, metas := testVectors()
	_, err = g.AddVectors(ctx, vectors, metas)
	require.NoError(t, err)

	// Three insertions crossed the checkpoint threshold, so the artifacts
	// exist without an explicit Save.
	require.NoError(t, g.Close())
	loaded := newTestGraph(t, dir)
	require.NoError(t, loaded.Load(ctx))
	count, err := loaded.VectorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGraphIndex_DirectoryLock(t *testing.T) {
	dir := t.TempDir()

	first := newTestGraph(t, dir)
	_ = first

	_, err := NewGraphIndex(GraphConfig{Path: dir, Dimensions: 4})
	require.Error(t, err)
	assert.True(t, qerrors.HasCode(err, qerrors.ErrCodeIndexLocked))
}

func TestGraphIndex_ClosedRejectsOperations(t *testing.T) {
	g := newTestGraph(t, "")
	require.NoError(t, g.Close())

	ctx := context.Background()
	_, err := g.AddVectors(ctx, [][]float32{{1, 0, 0, 0}}, []VectorMeta{{ChunkID: 1}})
	assert.Error(t, err)

	_, err = g.Search(ctx, []float32{1, 0, 0, 0}, 1)
	assert.Error(t, err)

	assert.False(t, g.Healthy(ctx))
}

func TestGraphIndex_InMemorySaveIsNoop(t *testing.T) {
	g := newTestGraph(t, "")
	require.NoError(t, g.Save(context.Background()))
}

func TestGraphIndex_Inline(t *testing.T) {
	g := newTestGraph(t, "")
	assert.False(t, g.Inline())
}
