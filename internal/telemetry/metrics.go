// Package telemetry exposes Prometheus metrics for the ingestion and query
// paths and records per-query statistics to a local SQLite store.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for ingestion and search.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal     *prometheus.CounterVec
	ingestChunks    prometheus.Counter
	ingestDuration  prometheus.Histogram
	orphanedVectors prometheus.Counter
	searchDuration  *prometheus.HistogramVec
	searchResults   prometheus.Histogram
}

// NewMetrics creates and registers the instruments on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quiver",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total ingested documents by status.",
		},
		[]string{"status"},
	)
	ingestChunks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quiver",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total chunks written across all ingestions.",
		},
	)
	ingestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quiver",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Per-document ingestion duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	orphanedVectors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quiver",
			Subsystem: "ingest",
			Name:      "orphaned_vectors_total",
			Help:      "Vectors left in the graph index by failed relational commits.",
		},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quiver",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Query duration in seconds by mode.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"mode"},
	)
	searchResults := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quiver",
			Subsystem: "search",
			Name:      "results",
			Help:      "Result count per query.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	registry.MustRegister(ingestTotal, ingestChunks, ingestDuration,
		orphanedVectors, searchDuration, searchResults)

	return &Metrics{
		registry:        registry,
		ingestTotal:     ingestTotal,
		ingestChunks:    ingestChunks,
		ingestDuration:  ingestDuration,
		orphanedVectors: orphanedVectors,
		searchDuration:  searchDuration,
		searchResults:   searchResults,
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FinishIngest records one document ingestion.
func (m *Metrics) FinishIngest(duration time.Duration, chunks int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ingestTotal.WithLabelValues(status).Inc()
	m.ingestDuration.Observe(duration.Seconds())
	if chunks > 0 {
		m.ingestChunks.Add(float64(chunks))
	}
}

// RecordOrphanedVectors counts vectors stranded in the graph index after a
// failed relational commit.
func (m *Metrics) RecordOrphanedVectors(n int) {
	if n > 0 {
		m.orphanedVectors.Add(float64(n))
	}
}

// FinishSearch records one query.
func (m *Metrics) FinishSearch(mode string, duration time.Duration, results int) {
	m.searchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.searchResults.Observe(float64(results))
}
