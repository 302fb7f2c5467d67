package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiver-search/quiver/internal/embed"
	qerrors "github.com/quiver-search/quiver/internal/errors"
	"github.com/quiver-search/quiver/internal/index"
	"github.com/quiver-search/quiver/internal/store"
	"github.com/quiver-search/quiver/internal/telemetry"
)

// Engine answers queries: embed once, gather oversampled candidates from the
// vector and (optionally) lexical channels in parallel, fuse, optionally
// rerank, hydrate, truncate.
type Engine struct {
	store    store.MetadataStore
	index    index.VectorIndex
	embedder embed.Embedder
	reranker Reranker
	metrics  *telemetry.Metrics
	stats    *telemetry.QueryStatsStore
	logger   *slog.Logger
	config   Config
}

// NewEngine creates a query engine. Reranker, metrics, and stats are
// optional.
func NewEngine(st store.MetadataStore, idx index.VectorIndex, emb embed.Embedder,
	reranker Reranker, metrics *telemetry.Metrics, stats *telemetry.QueryStatsStore,
	logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Oversample < 1 {
		cfg.Oversample = 3
	}
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK < 1 {
		cfg.MaxTopK = 50
	}
	return &Engine{
		store:    st,
		index:    idx,
		embedder: emb,
		reranker: reranker,
		metrics:  metrics,
		stats:    stats,
		logger:   logger,
		config:   cfg,
	}
}

// Search runs one query and returns ranked results.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()
	results, err := e.search(ctx, query, opts)

	mode := "vector"
	if opts.Hybrid {
		mode = "hybrid"
	}
	if e.metrics != nil {
		e.metrics.FinishSearch(mode, time.Since(start), len(results))
	}
	if e.stats != nil && err == nil {
		if recErr := e.stats.Record(telemetry.QueryRecord{
			Query:       query,
			Mode:        mode,
			DurationMS:  time.Since(start).Milliseconds(),
			ResultCount: len(results),
		}); recErr != nil {
			e.logger.Warn("query stats recording failed", slog.String("error", recErr.Error()))
		}
	}
	return results, err
}

func (e *Engine) search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, qerrors.Newf(qerrors.ErrCodeQueryEmpty, "query must not be empty")
	}

	topK := opts.TopK
	if topK == 0 {
		topK = e.config.DefaultTopK
	}
	if topK < 1 || topK > e.config.MaxTopK {
		return nil, qerrors.Newf(qerrors.ErrCodeInvalidInput,
			"top_k must be in [1,%d], got %d", e.config.MaxTopK, topK)
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	fetch := topK * e.config.Oversample

	var (
		vectorScores  map[int64]float64
		lexicalScores map[int64]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		candidates, err := e.index.Search(gctx, queryVec, fetch)
		if err != nil {
			return err
		}
		vectorScores = make(map[int64]float64, len(candidates))
		for _, c := range candidates {
			vectorScores[c.ChunkID] = float64(c.Score)
		}
		return nil
	})
	if opts.Hybrid {
		g.Go(func() error {
			hits, err := e.store.LexicalSearch(gctx, query, fetch)
			if err != nil {
				return err
			}
			lexicalScores = make(map[int64]float64, len(hits))
			for _, h := range hits {
				lexicalScores[h.ChunkID] = float64(h.Score)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var ranked []fusedCandidate
	if opts.Hybrid {
		ranked = fuse(vectorScores, lexicalScores, e.config.Alpha)
	} else {
		ranked = fuse(vectorScores, nil, 1.0)
	}
	if len(ranked) == 0 {
		return []Result{}, nil
	}

	hydrated, err := e.hydrate(ctx, ranked)
	if err != nil {
		return nil, err
	}

	if opts.Rerank && e.reranker != nil && len(ranked) > topK {
		ranked = e.rerank(ctx, query, ranked, hydrated)
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	results := make([]Result, 0, len(ranked))
	for _, c := range ranked {
		row, ok := hydrated[c.ChunkID]
		if !ok {
			// Deleted between candidate search and hydration.
			continue
		}
		results = append(results, Result{
			ChunkID:  c.ChunkID,
			DocID:    row.DocID,
			Title:    row.Title,
			Snippet:  truncate(row.Text, e.config.SnippetLength),
			Metadata: row.Metadata,
			Score:    c.Score,
		})
	}

	// Hydration order is not guaranteed to match fusion order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}

// hydrate fetches chunk rows with document titles for the candidates.
func (e *Engine) hydrate(ctx context.Context, ranked []fusedCandidate) (map[int64]store.HydratedChunk, error) {
	ids := make([]int64, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ChunkID
	}
	rows, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	hydrated := make(map[int64]store.HydratedChunk, len(rows))
	for _, row := range rows {
		hydrated[row.ChunkID] = row
	}
	return hydrated, nil
}

// rerank rescores candidates with the cross-encoder. A reranking failure
// degrades to the fused ordering rather than failing the query.
func (e *Engine) rerank(ctx context.Context, query string, ranked []fusedCandidate,
	hydrated map[int64]store.HydratedChunk) []fusedCandidate {

	candidates := make([]fusedCandidate, 0, len(ranked))
	texts := make([]string, 0, len(ranked))
	for _, c := range ranked {
		row, ok := hydrated[c.ChunkID]
		if !ok {
			continue
		}
		candidates = append(candidates, c)
		texts = append(texts, row.Text)
	}

	scores, err := e.reranker.Score(ctx, query, texts)
	if err != nil {
		e.logger.Warn("reranking failed, falling back to fused ordering",
			slog.String("error", err.Error()))
		return ranked
	}

	for i := range candidates {
		candidates[i].Score = scores[i]
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	return candidates
}

// truncate bounds text to limit runes.
func truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
