// Package search implements the hybrid query engine: vector and lexical
// candidate channels, weighted fusion, optional reranking, and hydration.
package search

// Options controls one query.
type Options struct {
	// TopK is the number of results to return. Zero selects the configured
	// default.
	TopK int
	// Hybrid enables the lexical channel alongside the vector channel.
	Hybrid bool
	// Rerank enables the cross-encoder pass when a reranker is configured.
	Rerank bool
}

// Result is one ranked search hit.
type Result struct {
	ChunkID  int64
	DocID    string
	Title    string
	Snippet  string
	Metadata map[string]string
	Score    float64
}

// Config holds the engine's ranking parameters.
type Config struct {
	// Alpha weighs the vector channel in hybrid fusion.
	Alpha float64
	// Oversample multiplies TopK for the candidate channels.
	Oversample int
	// SnippetLength bounds result display text, in characters.
	SnippetLength int
	// DefaultTopK applies when Options.TopK is zero.
	DefaultTopK int
	// MaxTopK bounds Options.TopK.
	MaxTopK int
}
