// Package ingest implements the per-document ingestion pipeline: chunk,
// embed, index, and commit as one logical unit of work.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/quiver-search/quiver/internal/chunk"
	"github.com/quiver-search/quiver/internal/embed"
	qerrors "github.com/quiver-search/quiver/internal/errors"
	"github.com/quiver-search/quiver/internal/index"
	"github.com/quiver-search/quiver/internal/store"
	"github.com/quiver-search/quiver/internal/telemetry"
)

// metaSnippetLength bounds the text snippet stored in the vector side table.
const metaSnippetLength = 100

// Config holds chunking parameters for the pipeline.
type Config struct {
	ChunkTokens  int
	ChunkOverlap int
}

// Request is one document to ingest.
type Request struct {
	DocID    string
	Title    string
	Text     string
	Metadata map[string]string
}

// BulkResult reports one document's outcome within a bulk ingestion.
type BulkResult struct {
	DocID  string
	Chunks int
	Err    error
}

// Pipeline orchestrates chunker, embedding provider, vector index, and
// metadata store. A failed ingestion rolls back the relational transaction;
// vectors already inserted into the graph backend have no rollback path and
// are surfaced as orphans through metrics.
type Pipeline struct {
	store    store.MetadataStore
	index    index.VectorIndex
	embedder embed.Embedder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	config   Config
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(st store.MetadataStore, idx index.VectorIndex, emb embed.Embedder,
	metrics *telemetry.Metrics, logger *slog.Logger, cfg Config) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    st,
		index:    idx,
		embedder: emb,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}
}

// Ingest processes one document and returns the number of chunks written.
// Zero chunks (empty or whitespace-only text) is not an error: the document
// is not created and zero is returned.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (int, error) {
	start := time.Now()
	count, err := p.ingest(ctx, req)
	if p.metrics != nil {
		p.metrics.FinishIngest(time.Since(start), count, err)
	}
	return count, err
}

func (p *Pipeline) ingest(ctx context.Context, req Request) (int, error) {
	if strings.TrimSpace(req.DocID) == "" {
		return 0, qerrors.Newf(qerrors.ErrCodeInvalidInput, "doc_id is required")
	}

	exists, err := p.store.DocumentExists(ctx, req.DocID)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, qerrors.Newf(qerrors.ErrCodeDuplicateDocument,
			"document already exists: %s", req.DocID)
	}

	texts := chunk.Split(req.Text, p.config.ChunkTokens, p.config.ChunkOverlap)
	if len(texts) == 0 {
		emptyErr := qerrors.Newf(qerrors.ErrCodeEmptyContent,
			"document produced zero chunks: %s", req.DocID)
		p.logger.Warn("nothing to ingest",
			slog.String("doc_id", req.DocID),
			slog.String("error", emptyErr.Error()))
		return 0, nil
	}

	// Single provider call per document, outside any index lock.
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.InsertDocument(ctx, store.Document{
		DocID:    req.DocID,
		Title:    req.Title,
		Metadata: req.Metadata,
	}); err != nil {
		return 0, err
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			DocID:        req.DocID,
			Text:         text,
			TokenCount:   chunk.EstimateTokens(text),
			Metadata:     chunkMetadata(req.Metadata, i),
			EmbedModel:   p.embedder.ModelName(),
			EmbedVersion: p.embedder.ModelVersion(),
		}
	}
	chunkIDs, err := tx.InsertChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}

	metas := make([]index.VectorMeta, len(chunkIDs))
	for i, chunkID := range chunkIDs {
		metas[i] = index.VectorMeta{
			ChunkID: chunkID,
			DocID:   req.DocID,
			Snippet: snippet(texts[i], metaSnippetLength),
		}
	}
	vectorIDs, err := p.index.AddVectors(ctx, vectors, metas)
	if err != nil {
		return 0, err
	}

	// From here on, a failure strands vectors in the graph backend: the
	// relational transaction rolls back but the index has no undo.
	if err := p.finishVectors(ctx, tx, chunkIDs, vectorIDs, vectors); err != nil {
		p.reportOrphans(req.DocID, vectorIDs)
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		p.reportOrphans(req.DocID, vectorIDs)
		return 0, err
	}

	p.logger.Info("document ingested",
		slog.String("doc_id", req.DocID),
		slog.Int("chunks", len(chunkIDs)))
	return len(chunkIDs), nil
}

// finishVectors records the vector association on chunk rows: inline
// embeddings for the pgvector backend, vector_id references for the graph
// backend.
func (p *Pipeline) finishVectors(ctx context.Context, tx store.IngestTx,
	chunkIDs []int64, vectorIDs []uint64, vectors [][]float32) error {
	if p.index.Inline() {
		return tx.SetEmbeddings(ctx, chunkIDs, vectors)
	}
	return tx.SetVectorIDs(ctx, chunkIDs, vectorIDs)
}

// reportOrphans surfaces vectors stranded by a failed commit. Only the graph
// backend can strand vectors; the pgvector backend's rows roll back with the
// transaction.
func (p *Pipeline) reportOrphans(docID string, vectorIDs []uint64) {
	if p.index.Inline() || len(vectorIDs) == 0 {
		return
	}
	if p.metrics != nil {
		p.metrics.RecordOrphanedVectors(len(vectorIDs))
	}
	orphanErr := qerrors.Newf(qerrors.ErrCodeOrphanedVectors,
		"%d vectors orphaned in graph index for document %s", len(vectorIDs), docID)
	p.logger.Warn("relational commit failed after vector insertion",
		slog.String("doc_id", docID),
		slog.Int("orphaned", len(vectorIDs)),
		slog.String("error", orphanErr.Error()))
}

// BulkIngest ingests documents independently: one document's failure never
// aborts the batch. Results are returned in input order.
func (p *Pipeline) BulkIngest(ctx context.Context, reqs []Request) []BulkResult {
	results := make([]BulkResult, len(reqs))
	for i, req := range reqs {
		count, err := p.Ingest(ctx, req)
		results[i] = BulkResult{DocID: req.DocID, Chunks: count, Err: err}
		if err != nil {
			p.logger.Warn("bulk ingestion: document failed",
				slog.String("doc_id", req.DocID),
				slog.String("error", err.Error()))
		}
	}
	return results
}

// Reindex re-embeds a document's existing chunks and replaces its vectors.
// On the graph backend old vectors are removed first, so a failure mid-way
// leaves the document lexically searchable but without vector hits until
// retried. Inline backends keep their rows; embeddings are overwritten in
// place inside the transaction.
func (p *Pipeline) Reindex(ctx context.Context, docID string) (int, error) {
	if _, err := p.store.GetDocument(ctx, docID); err != nil {
		return 0, err
	}

	chunks, err := p.store.GetChunksByDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		p.logger.Warn("reindex: document has no chunks", slog.String("doc_id", docID))
		return 0, nil
	}

	texts := make([]string, len(chunks))
	chunkIDs := make([]int64, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		chunkIDs[i] = c.ChunkID
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	// On an inline backend RemoveDocument would delete the chunk rows the
	// updates below target; SetEmbeddings overwrites vectors in place instead.
	if !p.index.Inline() {
		if err := p.index.RemoveDocument(ctx, docID); err != nil {
			return 0, err
		}
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.ClearVectorRefs(ctx, docID); err != nil {
		return 0, err
	}

	metas := make([]index.VectorMeta, len(chunkIDs))
	for i, chunkID := range chunkIDs {
		metas[i] = index.VectorMeta{
			ChunkID: chunkID,
			DocID:   docID,
			Snippet: snippet(texts[i], metaSnippetLength),
		}
	}
	vectorIDs, err := p.index.AddVectors(ctx, vectors, metas)
	if err != nil {
		return 0, err
	}

	if err := p.finishVectors(ctx, tx, chunkIDs, vectorIDs, vectors); err != nil {
		p.reportOrphans(docID, vectorIDs)
		return 0, err
	}
	if err := tx.SetProvenance(ctx, chunkIDs, p.embedder.ModelName(), p.embedder.ModelVersion()); err != nil {
		p.reportOrphans(docID, vectorIDs)
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		p.reportOrphans(docID, vectorIDs)
		return 0, err
	}

	p.logger.Info("document reindexed",
		slog.String("doc_id", docID),
		slog.Int("chunks", len(chunkIDs)))
	return len(chunkIDs), nil
}

// Delete removes a document from both stores. Chunk rows cascade with the
// document; graph vectors are tombstoned.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	if err := p.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if err := p.index.RemoveDocument(ctx, docID); err != nil {
		return fmt.Errorf("document deleted but index cleanup failed: %w", err)
	}
	p.logger.Info("document deleted", slog.String("doc_id", docID))
	return nil
}

// chunkMetadata inherits the document metadata and adds the chunk position.
func chunkMetadata(docMeta map[string]string, chunkIndex int) map[string]string {
	meta := make(map[string]string, len(docMeta)+1)
	for k, v := range docMeta {
		meta[k] = v
	}
	meta["chunk_index"] = strconv.Itoa(chunkIndex)
	return meta
}

// snippet truncates text to at most limit runes.
func snippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
