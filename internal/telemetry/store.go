package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// QueryStatsStore records per-query statistics to a local SQLite file. It is
// best-effort: recording failures are reported but never fail a query.
type QueryStatsStore struct {
	db *sql.DB
}

// QueryRecord is one recorded query.
type QueryRecord struct {
	Query       string
	Mode        string
	DurationMS  int64
	ResultCount int
}

// Summary aggregates recorded queries.
type Summary struct {
	TotalQueries  int64
	AvgDurationMS float64
	AvgResults    float64
	ZeroResult    int64
}

// OpenQueryStatsStore opens (and initializes) the stats database at path.
func OpenQueryStatsStore(path string) (*QueryStatsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create stats directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS query_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		mode TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		result_count INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_stats_created ON query_stats(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create stats schema: %w", err)
	}

	return &QueryStatsStore{db: db}, nil
}

// Record appends one query record.
func (s *QueryStatsStore) Record(rec QueryRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO query_stats (query, mode, duration_ms, result_count)
		VALUES (?, ?, ?, ?)
	`, rec.Query, rec.Mode, rec.DurationMS, rec.ResultCount)
	if err != nil {
		return fmt.Errorf("record query stat: %w", err)
	}
	return nil
}

// Summarize aggregates queries recorded in the window ending now.
func (s *QueryStatsStore) Summarize(window time.Duration) (*Summary, error) {
	since := time.Now().Add(-window).UTC().Format("2006-01-02 15:04:05")

	var sum Summary
	err := s.db.QueryRow(`
		SELECT count(*),
		       COALESCE(avg(duration_ms), 0),
		       COALESCE(avg(result_count), 0),
		       COALESCE(sum(CASE WHEN result_count = 0 THEN 1 ELSE 0 END), 0)
		FROM query_stats
		WHERE created_at >= ?
	`, since).Scan(&sum.TotalQueries, &sum.AvgDurationMS, &sum.AvgResults, &sum.ZeroResult)
	if err != nil {
		return nil, fmt.Errorf("summarize query stats: %w", err)
	}
	return &sum, nil
}

// RecentZeroResultQueries returns the most recent queries that matched
// nothing, newest first.
func (s *QueryStatsStore) RecentZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query FROM query_stats
		WHERE result_count = 0
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan zero-result query: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close releases the database.
func (s *QueryStatsStore) Close() error {
	return s.db.Close()
}
