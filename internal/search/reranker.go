package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	qerrors "github.com/quiver-search/quiver/internal/errors"
	"github.com/quiver-search/quiver/internal/resilience"
)

// Reranker scores (query, text) pairs with an external cross-encoder.
// Scores are returned in input order.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// HTTPReranker calls a cross-encoder scoring endpoint.
type HTTPReranker struct {
	client   *http.Client
	endpoint string
	exec     *resilience.Executor
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker for the given endpoint.
func NewHTTPReranker(endpoint string, exec *resilience.Executor) *HTTPReranker {
	return &HTTPReranker{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: endpoint,
		exec:     exec,
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Score scores texts against the query, retrying transient failures.
func (r *HTTPReranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}

	var scores []float64
	err := r.exec.Execute(ctx, "rerank", func(ctx context.Context) error {
		var innerErr error
		scores, innerErr = r.score(ctx, query, texts)
		return innerErr
	})
	return scores, err
}

func (r *HTTPReranker) score(ctx context.Context, query string, texts []string) ([]float64, error) {
	payload, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeRerankFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, qerrors.Newf(qerrors.ErrCodeRerankFailed,
			"reranker returned status %d: %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeRerankFailed, err)
	}
	if len(result.Scores) != len(texts) {
		return nil, qerrors.Newf(qerrors.ErrCodeRerankFailed,
			"reranker returned %d scores for %d texts", len(result.Scores), len(texts))
	}
	return result.Scores, nil
}
