package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	qerrors "github.com/quiver-search/quiver/internal/errors"
)

// schemaLockKey serializes bootstrap DDL across concurrent startups.
const schemaLockKey = int64(7517803901)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresStore implements MetadataStore over PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// withEmbedding adds the pgvector column to the chunks table. Set when
	// the pgvector backend is configured.
	withEmbedding bool
	dimensions    int
}

var _ MetadataStore = (*PostgresStore)(nil)

// Options configures schema details of the store.
type Options struct {
	// WithEmbedding creates the inline embedding column for the pgvector
	// backend.
	WithEmbedding bool
	// Dimensions sizes the embedding column.
	Dimensions int
}

// OpenDB opens a pooled PostgreSQL connection.
func OpenDB(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return db, nil
}

// NewPostgresStore creates a store over an open database.
func NewPostgresStore(db *sql.DB, opts Options) *PostgresStore {
	return &PostgresStore{
		db:            db,
		withEmbedding: opts.WithEmbedding,
		dimensions:    opts.Dimensions,
	}
}

// DB exposes the underlying handle for components that share the pool.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// EnsureSchema creates tables and indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if s.withEmbedding {
		if _, err := tx.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
	}

	ddl := `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id BIGSERIAL PRIMARY KEY,
	doc_id TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	lexical_index TSVECTOR,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embed_model TEXT NOT NULL DEFAULT '',
	embed_version TEXT NOT NULL DEFAULT '',
	vector_id BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_lexical ON chunks USING gin(lexical_index);
CREATE INDEX IF NOT EXISTS idx_chunks_metadata ON chunks USING gin(metadata);
`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if s.withEmbedding {
		alter := fmt.Sprintf(
			`ALTER TABLE chunks ADD COLUMN IF NOT EXISTS embedding vector(%d)`, s.dimensions)
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("add embedding column: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// DocumentExists reports whether a document with the given id exists.
func (s *PostgresStore) DocumentExists(ctx context.Context, docID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE doc_id = $1)`, docID).Scan(&exists)
	if err != nil {
		return false, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return exists, nil
}

// GetDocument fetches a document by id.
func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT doc_id, title, metadata, created_at
FROM documents
WHERE doc_id = $1
`, docID)

	var doc Document
	var metaRaw []byte
	if err := row.Scan(&doc.DocID, &doc.Title, &metaRaw, &doc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, qerrors.Newf(qerrors.ErrCodeDocumentNotFound, "document not found: %s", docID)
		}
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal document metadata: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT doc_id, title, metadata, created_at
FROM documents
ORDER BY created_at DESC
`)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metaRaw []byte
		if err := rows.Scan(&doc.DocID, &doc.Title, &metaRaw, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal document metadata: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; chunk rows cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, docID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return qerrors.Newf(qerrors.ErrCodeDocumentNotFound, "document not found: %s", docID)
	}
	return nil
}

// DocumentCount returns the number of documents.
func (s *PostgresStore) DocumentCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&count)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return count, nil
}

// ChunkCount returns the number of chunks for a document.
func (s *PostgresStore) ChunkCount(ctx context.Context, docID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM chunks WHERE doc_id = $1`, docID).Scan(&count)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return count, nil
}

// GetChunks hydrates chunk ids with their document titles.
func (s *PostgresStore) GetChunks(ctx context.Context, chunkIDs []int64) ([]HydratedChunk, error) {
	if len(chunkIDs) == 0 {
		return []HydratedChunk{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT c.chunk_id, c.doc_id, d.title, c.text, c.metadata
FROM chunks c
JOIN documents d ON d.doc_id = c.doc_id
WHERE c.chunk_id = ANY($1::bigint[])
`, encodeInt64Array(chunkIDs))
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []HydratedChunk
	for rows.Next() {
		var c HydratedChunk
		var metaRaw []byte
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Title, &c.Text, &metaRaw); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunksByDocument returns a document's chunks ordered by chunk id.
func (s *PostgresStore) GetChunksByDocument(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_id, doc_id, text, token_count, metadata, embed_model, embed_version, vector_id, created_at
FROM chunks
WHERE doc_id = $1
ORDER BY chunk_id
`, docID)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var metaRaw []byte
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Text, &c.TokenCount, &metaRaw,
			&c.EmbedModel, &c.EmbedVersion, &c.VectorID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(metaRaw, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// LexicalSearch runs a full-text query ranked by ts_rank_cd.
func (s *PostgresStore) LexicalSearch(ctx context.Context, query string, limit int) ([]LexicalResult, error) {
	if strings.TrimSpace(query) == "" {
		return []LexicalResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_id, ts_rank_cd(lexical_index, plainto_tsquery('english', $1)) AS score
FROM chunks
WHERE lexical_index @@ plainto_tsquery('english', $1)
ORDER BY score DESC
LIMIT $2
`, query, limit)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var results []LexicalResult
	for rows.Next() {
		var r LexicalResult
		if err := rows.Scan(&r.ChunkID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan lexical result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Healthy probes the database connection.
func (s *PostgresStore) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Begin opens an ingestion transaction.
func (s *PostgresStore) Begin(ctx context.Context) (IngestTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return &postgresTx{tx: tx}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// postgresTx implements IngestTx over a database transaction.
type postgresTx struct {
	tx        *sql.Tx
	committed bool
}

var _ IngestTx = (*postgresTx)(nil)

func (t *postgresTx) InsertDocument(ctx context.Context, doc Document) error {
	metaJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO documents (doc_id, title, metadata, created_at)
VALUES ($1, $2, $3, now())
`, doc.DocID, doc.Title, metaJSON)
	if err != nil {
		// Two concurrent ingests of the same document can both pass the
		// existence check; the loser surfaces here as a PK violation.
		if isUniqueViolation(err) {
			return qerrors.Newf(qerrors.ErrCodeDuplicateDocument,
				"document already exists: %s", doc.DocID)
		}
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

// InsertChunks writes chunk rows one at a time, collecting assigned ids via
// RETURNING. The lexical index is derived in the database so it always
// agrees with the stored text.
func (t *postgresTx) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		metaJSON, err := marshalMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		var id int64
		err = t.tx.QueryRowContext(ctx, `
INSERT INTO chunks (doc_id, text, token_count, lexical_index, metadata, embed_model, embed_version, created_at)
VALUES ($1, $2, $3, to_tsvector('english', $2), $4, $5, $6, now())
RETURNING chunk_id
`, c.DocID, c.Text, c.TokenCount, metaJSON, c.EmbedModel, c.EmbedVersion).Scan(&id)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *postgresTx) SetVectorIDs(ctx context.Context, chunkIDs []int64, vectorIDs []uint64) error {
	if len(chunkIDs) != len(vectorIDs) {
		return qerrors.Newf(qerrors.ErrCodeInvalidInput,
			"chunk and vector id count mismatch: %d vs %d", len(chunkIDs), len(vectorIDs))
	}
	for i, chunkID := range chunkIDs {
		_, err := t.tx.ExecContext(ctx,
			`UPDATE chunks SET vector_id = $1 WHERE chunk_id = $2`,
			int64(vectorIDs[i]), chunkID)
		if err != nil {
			return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
		}
	}
	return nil
}

func (t *postgresTx) SetEmbeddings(ctx context.Context, chunkIDs []int64, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return qerrors.Newf(qerrors.ErrCodeInvalidInput,
			"chunk and vector count mismatch: %d vs %d", len(chunkIDs), len(vectors))
	}
	for i, chunkID := range chunkIDs {
		_, err := t.tx.ExecContext(ctx,
			`UPDATE chunks SET embedding = $1::vector WHERE chunk_id = $2`,
			encodeVector(vectors[i]), chunkID)
		if err != nil {
			return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
		}
	}
	return nil
}

func (t *postgresTx) ClearVectorRefs(ctx context.Context, docID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE chunks SET vector_id = NULL WHERE doc_id = $1`, docID)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

func (t *postgresTx) SetProvenance(ctx context.Context, chunkIDs []int64, model, version string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `
UPDATE chunks SET embed_model = $1, embed_version = $2
WHERE chunk_id = ANY($3::bigint[])
`, model, version, encodeInt64Array(chunkIDs))
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return qerrors.Wrap(qerrors.ErrCodeDuplicateDocument, err)
		}
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	t.committed = true
	return nil
}

func (t *postgresTx) Rollback() error {
	if t.committed {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func marshalMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}
