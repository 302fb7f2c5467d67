package index

import (
	"bufio"
	"context"
	"encoding/gob"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"

	qerrors "github.com/quiver-search/quiver/internal/errors"
)

// Graph artifact file names under the index directory.
const (
	graphFileName = "vectors.hnsw"
	metaFileName  = "vectors.meta"
	lockFileName  = "index.lock"
)

// GraphConfig configures the HNSW graph backend.
type GraphConfig struct {
	// Path is the directory holding the persisted artifacts. Empty runs the
	// index purely in memory (tests, throwaway sessions).
	Path string
	// Dimensions is the vector dimension.
	Dimensions int
	// M is the graph degree per node.
	M int
	// EfSearch is the candidate list size while querying.
	EfSearch int
	// CheckpointEvery persists state after this many insertions. Zero
	// disables periodic checkpointing.
	CheckpointEvery int
	// Logger receives checkpoint and recovery events.
	Logger *slog.Logger
}

// GraphIndex is the in-process ANN backend: an HNSW graph plus a metadata
// side table resolving graph keys to chunks.
//
// The graph structure does not support point removal, so deletion is
// logical: the side-table entry is dropped and the node stays in the graph
// as a tombstone. Searches filter candidates through the side table, which
// is mandatory because tombstoned nodes still participate in traversal.
//
// A single mutex guards every operation. The underlying graph is not safe
// for concurrent read/write, so ingestion and query traffic serialize here.
// This is the principal scalability limit of this backend; deployments that
// outgrow it move to the pgvector backend.
type GraphIndex struct {
	mu    sync.Mutex
	graph *hnsw.Graph[uint64]
	metas map[uint64]VectorMeta

	// nextID is monotonic and never reused, even after deletion.
	nextID uint64

	insertsSinceCheckpoint int

	config GraphConfig
	flk    *flock.Flock
	logger *slog.Logger
	closed bool
}

var _ VectorIndex = (*GraphIndex)(nil)

// graphMetadata is the persisted side-table artifact.
type graphMetadata struct {
	Metas      map[uint64]VectorMeta
	NextID     uint64
	Dimensions int
}

// NewGraphIndex creates a graph index. When cfg.Path is set the directory is
// created and an exclusive file lock taken so two processes never mutate the
// same artifacts.
func NewGraphIndex(cfg GraphConfig) (*GraphIndex, error) {
	if cfg.M == 0 {
		cfg.M = 32
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &GraphIndex{
		graph:  newGraph(cfg),
		metas:  make(map[uint64]VectorMeta),
		config: cfg,
		logger: cfg.Logger,
	}

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCodeIndexIO, err)
		}
		g.flk = flock.New(filepath.Join(cfg.Path, lockFileName))
		locked, err := g.flk.TryLock()
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCodeIndexIO, err)
		}
		if !locked {
			return nil, qerrors.Newf(qerrors.ErrCodeIndexLocked,
				"index directory %s is locked by another process", cfg.Path)
		}
	}

	return g, nil
}

func newGraph(cfg GraphConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	return graph
}

// AddVectors inserts vectors, assigning each the next unused id.
func (g *GraphIndex) AddVectors(ctx context.Context, vectors [][]float32, metas []VectorMeta) ([]uint64, error) {
	if len(vectors) != len(metas) {
		return nil, qerrors.Newf(qerrors.ErrCodeInvalidInput,
			"vectors and metadata length mismatch: %d vs %d", len(vectors), len(metas))
	}
	if len(vectors) == 0 {
		return []uint64{}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, qerrors.Newf(qerrors.ErrCodeIndexIO, "index is closed")
	}

	for _, v := range vectors {
		if len(v) != g.config.Dimensions {
			return nil, qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
				"vector has dimension %d, index expects %d", len(v), g.config.Dimensions)
		}
	}

	ids := make([]uint64, len(vectors))
	for i, v := range vectors {
		id := g.nextID
		g.nextID++

		vec := make([]float32, len(v))
		copy(vec, v)
		g.graph.Add(hnsw.MakeNode(id, vec))
		g.metas[id] = metas[i]
		ids[i] = id
	}

	g.insertsSinceCheckpoint += len(vectors)
	if g.config.CheckpointEvery > 0 && g.insertsSinceCheckpoint >= g.config.CheckpointEvery && g.config.Path != "" {
		if err := g.saveLocked(); err != nil {
			g.logger.Warn("index checkpoint failed", slog.String("error", err.Error()))
		} else {
			g.insertsSinceCheckpoint = 0
			g.logger.Debug("index checkpoint written",
				slog.Int("vectors", len(g.metas)),
				slog.String("path", g.config.Path))
		}
	}

	return ids, nil
}

// Search returns up to topK live candidates by ascending distance. The graph
// is asked for extra candidates to cover tombstoned nodes that traversal
// still returns.
func (g *GraphIndex) Search(ctx context.Context, query []float32, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return []Candidate{}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, qerrors.Newf(qerrors.ErrCodeIndexIO, "index is closed")
	}
	if len(query) != g.config.Dimensions {
		return nil, qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
			"query has dimension %d, index expects %d", len(query), g.config.Dimensions)
	}
	if g.graph.Len() == 0 {
		return []Candidate{}, nil
	}

	tombstones := g.graph.Len() - len(g.metas)
	fetch := topK + tombstones
	if fetch > g.graph.Len() {
		fetch = g.graph.Len()
	}

	nodes := g.graph.Search(query, fetch)

	results := make([]Candidate, 0, topK)
	for _, node := range nodes {
		meta, live := g.metas[node.Key]
		if !live {
			continue
		}
		// The graph's metric is true L2; scoring uses the squared distance.
		distance := g.graph.Distance(query, node.Value)
		results = append(results, Candidate{
			ChunkID: meta.ChunkID,
			Score:   1.0 / (1.0 + distance*distance),
		})
		if len(results) == topK {
			break
		}
	}

	return results, nil
}

// DeleteVectors tombstones vectors by dropping their side-table entries.
// Unknown ids are ignored.
func (g *GraphIndex) DeleteVectors(ctx context.Context, ids []uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return qerrors.Newf(qerrors.ErrCodeIndexIO, "index is closed")
	}

	for _, id := range ids {
		delete(g.metas, id)
	}
	return nil
}

// RemoveDocument tombstones every vector belonging to the document.
func (g *GraphIndex) RemoveDocument(ctx context.Context, docID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return qerrors.Newf(qerrors.ErrCodeIndexIO, "index is closed")
	}

	for id, meta := range g.metas {
		if meta.DocID == docID {
			delete(g.metas, id)
		}
	}
	return nil
}

// VectorCount returns the number of live (non-tombstoned) vectors.
func (g *GraphIndex) VectorCount(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return 0, qerrors.Newf(qerrors.ErrCodeIndexIO, "index is closed")
	}
	return len(g.metas), nil
}

// Healthy reports whether the graph can serve searches.
func (g *GraphIndex) Healthy(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed && g.graph != nil
}

// Inline reports false: vectors live in the graph, chunks carry vector_id
// references.
func (g *GraphIndex) Inline() bool { return false }

// Save persists the graph and side table as a consistent pair. In-memory
// indexes (empty path) treat Save as a no-op.
func (g *GraphIndex) Save(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return qerrors.Newf(qerrors.ErrCodeIndexIO, "index is closed")
	}
	if g.config.Path == "" {
		return nil
	}
	if err := g.saveLocked(); err != nil {
		return err
	}
	g.insertsSinceCheckpoint = 0
	return nil
}

// saveLocked writes both artifacts with temp-file-then-rename so a crash
// mid-write never corrupts the previous pair. Callers hold g.mu.
func (g *GraphIndex) saveLocked() error {
	graphPath := filepath.Join(g.config.Path, graphFileName)
	if err := atomicWrite(graphPath, func(f *os.File) error {
		return g.graph.Export(f)
	}); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeIndexIO, err)
	}

	metaPath := filepath.Join(g.config.Path, metaFileName)
	if err := atomicWrite(metaPath, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(graphMetadata{
			Metas:      g.metas,
			NextID:     g.nextID,
			Dimensions: g.config.Dimensions,
		})
	}); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeIndexIO, err)
	}

	return nil
}

// atomicWrite writes to path via a temp file and rename.
func atomicWrite(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load restores the graph and side table from disk. A missing artifact pair
// means a fresh index; the configured dimension applies.
func (g *GraphIndex) Load(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return qerrors.Newf(qerrors.ErrCodeIndexIO, "index is closed")
	}
	if g.config.Path == "" {
		return nil
	}

	metaPath := filepath.Join(g.config.Path, metaFileName)
	metaFile, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			g.logger.Info("no persisted index found, starting empty",
				slog.String("path", g.config.Path))
			return nil
		}
		return qerrors.Wrap(qerrors.ErrCodeIndexIO, err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta graphMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeCorruptIndex, err)
	}
	if meta.Dimensions != g.config.Dimensions {
		return qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
			"persisted index has dimension %d, config expects %d", meta.Dimensions, g.config.Dimensions)
	}

	graphPath := filepath.Join(g.config.Path, graphFileName)
	graphFile, err := os.Open(graphPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Half a pair is corruption, not a fresh start.
			return qerrors.Newf(qerrors.ErrCodeCorruptIndex,
				"metadata present but graph artifact missing at %s", graphPath)
		}
		return qerrors.Wrap(qerrors.ErrCodeIndexIO, err)
	}
	defer func() { _ = graphFile.Close() }()

	graph := newGraph(g.config)
	// Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(graphFile)); err != nil {
		return qerrors.Wrap(qerrors.ErrCodeCorruptIndex, err)
	}

	g.graph = graph
	g.metas = meta.Metas
	if g.metas == nil {
		g.metas = make(map[uint64]VectorMeta)
	}
	g.nextID = meta.NextID
	g.insertsSinceCheckpoint = 0

	g.logger.Info("index loaded",
		slog.Int("vectors", len(g.metas)),
		slog.Int("graph_nodes", g.graph.Len()),
		slog.String("path", g.config.Path))
	return nil
}

// Close releases the directory lock and marks the index unusable. State is
// not saved implicitly; callers save before closing.
func (g *GraphIndex) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.graph = nil

	if g.flk != nil {
		if err := g.flk.Unlock(); err != nil {
			return qerrors.Wrap(qerrors.ErrCodeIndexIO, err)
		}
	}
	return nil
}
