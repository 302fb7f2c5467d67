// Package index provides the vector index contract and its two backends: an
// in-process HNSW graph persisted to disk, and a pgvector-backed store that
// delegates similarity search to PostgreSQL.
package index

import "context"

// VectorMeta is the side-table record resolving a vector back to its chunk
// without a metadata store round trip per candidate.
type VectorMeta struct {
	ChunkID int64
	DocID   string
	Snippet string
}

// Candidate is a ranked search hit. Score is a bounded similarity where
// higher means more similar.
type Candidate struct {
	ChunkID int64
	Score   float32
}

// VectorIndex is the common contract both backends implement. The ingestion
// pipeline and query engine program only against this interface.
type VectorIndex interface {
	// AddVectors inserts vectors with their metadata and returns assigned
	// vector ids in input order. Vectors and metas must be equal length; any
	// vector whose dimension disagrees with the configured dimension fails
	// the whole call.
	AddVectors(ctx context.Context, vectors [][]float32, metas []VectorMeta) ([]uint64, error)

	// Search returns up to topK live candidates ranked by descending
	// similarity. Deleted vectors never appear in results.
	Search(ctx context.Context, query []float32, topK int) ([]Candidate, error)

	// DeleteVectors removes vectors by id. Unknown ids are ignored.
	DeleteVectors(ctx context.Context, ids []uint64) error

	// RemoveDocument removes every vector belonging to the given document.
	RemoveDocument(ctx context.Context, docID string) error

	// VectorCount returns the number of live vectors.
	VectorCount(ctx context.Context) (int, error)

	// Healthy reports whether the backend can serve searches.
	Healthy(ctx context.Context) bool

	// Save persists index state. A no-op for backends whose durability is
	// delegated elsewhere.
	Save(ctx context.Context) error

	// Load restores index state. Missing state is not an error; the backend
	// starts empty.
	Load(ctx context.Context) error

	// Inline reports whether vectors live inline on chunk rows rather than
	// in the index itself. The ingestion pipeline uses this to decide where
	// embeddings are written.
	Inline() bool

	// Close releases resources. The index is unusable afterwards.
	Close() error
}
