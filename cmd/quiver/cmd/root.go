// Package cmd provides the CLI commands for Quiver.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quiver-search/quiver/internal/config"
	"github.com/quiver-search/quiver/internal/embed"
	"github.com/quiver-search/quiver/internal/index"
	"github.com/quiver-search/quiver/internal/ingest"
	"github.com/quiver-search/quiver/internal/logging"
	"github.com/quiver-search/quiver/internal/resilience"
	"github.com/quiver-search/quiver/internal/search"
	"github.com/quiver-search/quiver/internal/store"
	"github.com/quiver-search/quiver/internal/telemetry"
)

var (
	configPath string
	logLevel   string
)

// NewRootCmd creates the root command for the quiver CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiver",
		Short: "Hybrid vector and lexical document search",
		Long: `Quiver ingests text documents into searchable chunks and answers
queries via hybrid (vector + lexical) retrieval with optional reranking.

Vectors live either in a local HNSW graph index or in PostgreSQL via
pgvector, selected by configuration.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "quiver.yaml", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override configured log level")

	cmd.AddCommand(
		newInitCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newReindexCmd(),
		newDeleteCmd(),
		newStatusCmd(),
	)
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// app is the composition root: everything a command needs, wired once.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.PostgresStore
	index    index.VectorIndex
	embedder embed.Embedder
	pipeline *ingest.Pipeline
	engine   *search.Engine
	metrics  *telemetry.Metrics
	stats    *telemetry.QueryStatsStore

	cleanups []func()
}

// openApp constructs the application from configuration. The returned app
// must be closed; closing saves the graph index before releasing resources.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	a := &app{cfg: cfg}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		WriteToStderr: cfg.Logging.File == "",
	})
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.cleanups = append(a.cleanups, logCleanup)

	db, err := store.OpenDB(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.store = store.NewPostgresStore(db, store.Options{
		WithEmbedding: cfg.Vector.Backend == config.BackendPGVector,
		Dimensions:    cfg.Embedding.Dimensions,
	})

	a.embedder, err = embed.New(cfg.Embedding)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.index, err = index.Open(cfg.Vector, cfg.Embedding.Dimensions, db, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.index.Load(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.metrics = telemetry.NewMetrics()
	if cfg.Telemetry.StatsPath != "" {
		a.stats, err = telemetry.OpenQueryStatsStore(cfg.Telemetry.StatsPath)
		if err != nil {
			logger.Warn("query stats store unavailable", slog.String("error", err.Error()))
			a.stats = nil
		}
	}

	var reranker search.Reranker
	if cfg.Search.RerankEndpoint != "" {
		reranker = search.NewHTTPReranker(cfg.Search.RerankEndpoint,
			resilience.NewExecutor(resilience.DefaultConfig()))
	}

	a.pipeline = ingest.NewPipeline(a.store, a.index, a.embedder, a.metrics, logger, ingest.Config{
		ChunkTokens:  cfg.Search.ChunkTokens,
		ChunkOverlap: cfg.Search.ChunkOverlap,
	})
	a.engine = search.NewEngine(a.store, a.index, a.embedder, reranker, a.metrics, a.stats,
		logger, search.Config{
			Alpha:         cfg.Search.Alpha,
			Oversample:    cfg.Search.Oversample,
			SnippetLength: cfg.Search.SnippetLength,
			DefaultTopK:   cfg.Search.TopK,
			MaxTopK:       cfg.Search.MaxTopK,
		})

	return a, nil
}

// close flushes the index and releases resources in reverse order.
func (a *app) close(ctx context.Context) {
	if a.index != nil {
		if err := a.index.Save(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: index save failed: %v\n", err)
		}
		if err := a.index.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: index close failed: %v\n", err)
		}
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.stats != nil {
		_ = a.stats.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}
