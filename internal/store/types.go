// Package store implements the relational metadata store: documents, chunks,
// the full-text lexical index, and the transactional write path used by the
// ingestion pipeline.
package store

import (
	"context"
	"time"
)

// Document is a caller-identified ingestion unit owning a set of chunks.
type Document struct {
	DocID     string
	Title     string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Chunk is the atomic unit of embedding and retrieval. Its vector lives
// either inline on the row (pgvector backend) or behind VectorID (graph
// backend), never both.
type Chunk struct {
	ChunkID      int64
	DocID        string
	Text         string
	TokenCount   int
	Metadata     map[string]string
	EmbedModel   string
	EmbedVersion string
	VectorID     *int64
	CreatedAt    time.Time
}

// LexicalResult is a full-text search hit ranked by the store's native
// relevance function.
type LexicalResult struct {
	ChunkID int64
	Score   float32
}

// HydratedChunk is a chunk joined with its document title, used to build
// final search results.
type HydratedChunk struct {
	ChunkID  int64
	DocID    string
	Title    string
	Text     string
	Metadata map[string]string
}

// MetadataStore is the relational persistence contract the pipeline and
// query engine program against.
type MetadataStore interface {
	// EnsureSchema creates tables and indexes if absent. Safe to call
	// concurrently from multiple processes.
	EnsureSchema(ctx context.Context) error

	// DocumentExists reports whether a document with the given id exists.
	DocumentExists(ctx context.Context, docID string) (bool, error)

	// GetDocument fetches a document by id.
	GetDocument(ctx context.Context, docID string) (*Document, error)

	// ListDocuments returns all documents, newest first.
	ListDocuments(ctx context.Context) ([]Document, error)

	// DeleteDocument removes a document; its chunks cascade.
	DeleteDocument(ctx context.Context, docID string) error

	// DocumentCount returns the number of documents.
	DocumentCount(ctx context.Context) (int, error)

	// ChunkCount returns the number of chunks for a document.
	ChunkCount(ctx context.Context, docID string) (int, error)

	// GetChunks hydrates the given chunk ids with their document titles.
	// Order of the returned slice is unspecified.
	GetChunks(ctx context.Context, chunkIDs []int64) ([]HydratedChunk, error)

	// GetChunksByDocument returns a document's chunks ordered by chunk id.
	GetChunksByDocument(ctx context.Context, docID string) ([]Chunk, error)

	// LexicalSearch runs a full-text query against the lexical index and
	// returns up to limit hits ranked by relevance.
	LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalResult, error)

	// Begin opens an ingestion transaction.
	Begin(ctx context.Context) (IngestTx, error)

	// Healthy probes the database connection.
	Healthy(ctx context.Context) bool

	// Close releases the connection pool.
	Close() error
}

// IngestTx is the transactional write path for one document's ingestion or
// reindex. Nothing is visible to readers until Commit.
type IngestTx interface {
	// InsertDocument writes the document row.
	InsertDocument(ctx context.Context, doc Document) error

	// InsertChunks writes chunk rows and returns store-assigned chunk ids
	// in input order. The lexical index is derived from each chunk's text.
	InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error)

	// SetVectorIDs records graph-backend vector references on chunk rows.
	SetVectorIDs(ctx context.Context, chunkIDs []int64, vectorIDs []uint64) error

	// SetEmbeddings writes inline embeddings on chunk rows (pgvector
	// backend).
	SetEmbeddings(ctx context.Context, chunkIDs []int64, vectors [][]float32) error

	// ClearVectorRefs nulls vector references for a document's chunks ahead
	// of reindexing. Inline embeddings are overwritten by SetEmbeddings.
	ClearVectorRefs(ctx context.Context, docID string) error

	// SetProvenance updates embed model/version on the given chunks.
	SetProvenance(ctx context.Context, chunkIDs []int64, model, version string) error

	// Commit makes the transaction's writes visible.
	Commit() error

	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}
