package index

import (
	"database/sql"
	"log/slog"

	"github.com/quiver-search/quiver/internal/config"
	qerrors "github.com/quiver-search/quiver/internal/errors"
)

// Open constructs the configured vector index backend. The database handle
// is only required for the pgvector backend.
func Open(cfg config.VectorConfig, dims int, db *sql.DB, logger *slog.Logger) (VectorIndex, error) {
	switch cfg.Backend {
	case config.BackendGraph:
		return NewGraphIndex(GraphConfig{
			Path:            cfg.IndexPath,
			Dimensions:      dims,
			M:               cfg.M,
			EfSearch:        cfg.EfSearch,
			CheckpointEvery: cfg.CheckpointEvery,
			Logger:          logger,
		})
	case config.BackendPGVector:
		if db == nil {
			return nil, qerrors.Newf(qerrors.ErrCodeConfigInvalid,
				"pgvector backend requires a database connection")
		}
		return NewPGVectorIndex(db, dims, logger), nil
	default:
		return nil, qerrors.Newf(qerrors.ErrCodeConfigInvalid,
			"unknown vector backend: %q", cfg.Backend)
	}
}
