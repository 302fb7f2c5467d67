package index

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	qerrors "github.com/quiver-search/quiver/internal/errors"
)

// PGVectorIndex delegates similarity search to PostgreSQL's pgvector
// extension. Vectors live inline on chunk rows, so this backend holds no
// state of its own beyond the connection; durability and concurrency come
// from the database's MVCC.
type PGVectorIndex struct {
	db     *sql.DB
	dims   int
	logger *slog.Logger

	// placeholderID feeds AddVectors' placeholder ids.
	placeholderID uint64
}

var _ VectorIndex = (*PGVectorIndex)(nil)

// searchFetchCap bounds the oversampled fetch against the database.
const searchFetchCap = 1000

// NewPGVectorIndex creates a pgvector-backed index over an open database.
func NewPGVectorIndex(db *sql.DB, dims int, logger *slog.Logger) *PGVectorIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGVectorIndex{db: db, dims: dims, logger: logger}
}

// AddVectors validates dimensions and returns sequential placeholder ids.
//
// Insertion happens as part of the ingestion pipeline's chunk row write,
// since vectors are first-class columns here, not a separate store. The
// returned ids are placeholders, not identifiers: callers must not use them
// for later lookup; only the chunk row matters on this backend.
func (p *PGVectorIndex) AddVectors(ctx context.Context, vectors [][]float32, metas []VectorMeta) ([]uint64, error) {
	if len(vectors) != len(metas) {
		return nil, qerrors.Newf(qerrors.ErrCodeInvalidInput,
			"vectors and metadata length mismatch: %d vs %d", len(vectors), len(metas))
	}

	for _, v := range vectors {
		if len(v) != p.dims {
			return nil, qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
				"vector has dimension %d, index expects %d", len(v), p.dims)
		}
	}

	ids := make([]uint64, len(vectors))
	for i := range ids {
		ids[i] = atomic.AddUint64(&p.placeholderID, 1)
	}
	return ids, nil
}

// Search runs a cosine-distance query, oversampling the database fetch for
// recall stability against approximate indexes, then truncating to topK.
func (p *PGVectorIndex) Search(ctx context.Context, query []float32, topK int) ([]Candidate, error) {
	return p.search(ctx, query, topK, nil)
}

// SearchWithin restricts Search to chunks of the given documents.
func (p *PGVectorIndex) SearchWithin(ctx context.Context, query []float32, topK int, docIDs []string) ([]Candidate, error) {
	return p.search(ctx, query, topK, docIDs)
}

func (p *PGVectorIndex) search(ctx context.Context, query []float32, topK int, docIDs []string) ([]Candidate, error) {
	if topK <= 0 {
		return []Candidate{}, nil
	}
	if len(query) != p.dims {
		return nil, qerrors.Newf(qerrors.ErrCodeDimensionMismatch,
			"query has dimension %d, index expects %d", len(query), p.dims)
	}

	fetch := topK * 3
	if fetch > searchFetchCap {
		fetch = searchFetchCap
	}

	vec := EncodeVector(query)
	var (
		rows *sql.Rows
		err  error
	)
	if len(docIDs) > 0 {
		rows, err = p.db.QueryContext(ctx, `
			SELECT chunk_id, 1 - (embedding <=> $1::vector) AS score
			FROM chunks
			WHERE embedding IS NOT NULL AND doc_id = ANY($2::text[])
			ORDER BY embedding <=> $1::vector
			LIMIT $3`, vec, encodeTextArray(docIDs), fetch)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT chunk_id, 1 - (embedding <=> $1::vector) AS score
			FROM chunks
			WHERE embedding IS NOT NULL
			ORDER BY embedding <=> $1::vector
			LIMIT $2`, vec, fetch)
	}
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Candidate, 0, topK)
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ChunkID, &c.Score); err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
		}
		results = append(results, c)
		if len(results) == topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return results, nil
}

// DeleteVectors physically deletes chunk rows. On this backend vector ids
// are chunk ids; there is no tombstoning and no orphan-filtering concern.
func (p *PGVectorIndex) DeleteVectors(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	chunkIDs := make([]int64, len(ids))
	for i, id := range ids {
		chunkIDs[i] = int64(id)
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE chunk_id = ANY($1::bigint[])`, encodeInt64Array(chunkIDs))
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

// RemoveDocument physically deletes the document's chunk rows.
func (p *PGVectorIndex) RemoveDocument(ctx context.Context, docID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

// VectorCount counts chunk rows carrying an embedding.
func (p *PGVectorIndex) VectorCount(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&count)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return count, nil
}

// Healthy probes the database connection.
func (p *PGVectorIndex) Healthy(ctx context.Context) bool {
	return p.db.PingContext(ctx) == nil
}

// Inline reports true: vectors are columns on chunk rows.
func (p *PGVectorIndex) Inline() bool { return true }

// Save is a no-op; durability is the database's.
func (p *PGVectorIndex) Save(ctx context.Context) error { return nil }

// Load is a no-op; state lives in the database.
func (p *PGVectorIndex) Load(ctx context.Context) error { return nil }

// Close releases nothing; the database handle is owned by the caller.
func (p *PGVectorIndex) Close() error { return nil }

// EnsureANNIndex builds the HNSW index on the embedding column. It runs
// CONCURRENTLY and therefore must execute outside any open transaction.
func (p *PGVectorIndex) EnsureANNIndex(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_chunks_embedding
		ON chunks USING hnsw (embedding vector_cosine_ops)`)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	p.logger.Info("pgvector ANN index ready")
	return nil
}

// EncodeVector renders a float32 slice as a pgvector literal, e.g.
// "[0.1,0.2,0.3]".
func EncodeVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// encodeInt64Array renders an int64 slice as a Postgres array literal.
func encodeInt64Array(ids []int64) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	b.WriteByte('}')
	return b.String()
}

// encodeTextArray renders a string slice as a Postgres array literal with
// each element quoted.
func encodeTextArray(values []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
