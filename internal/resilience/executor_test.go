package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quiver-search/quiver/internal/errors"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2.0,
		BreakerEnabled:      false,
	}
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	e := NewExecutor(fastConfig())

	calls := 0
	err := e.Execute(context.Background(), "embed", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesTransientFailure(t *testing.T) {
	e := NewExecutor(fastConfig())

	calls := 0
	err := e.Execute(context.Background(), "embed", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_DoesNotRetryValidationErrors(t *testing.T) {
	e := NewExecutor(fastConfig())

	calls := 0
	err := e.Execute(context.Background(), "embed", func(context.Context) error {
		calls++
		return qerrors.Newf(qerrors.ErrCodeDimensionMismatch, "expected 768, got 4")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must fail immediately")
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	e := NewExecutor(fastConfig())

	calls := 0
	err := e.Execute(context.Background(), "embed", func(context.Context) error {
		calls++
		return errors.New("still down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_HonorsContextCancellation(t *testing.T) {
	e := NewExecutor(fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Execute(ctx, "embed", func(context.Context) error {
		t.Fatal("callback must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_BreakerOpensAfterFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	e := NewExecutor(cfg)

	boom := func(context.Context) error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = e.Execute(context.Background(), "rerank", boom)
	}

	err := e.Execute(context.Background(), "rerank", func(context.Context) error {
		t.Fatal("open breaker must short-circuit")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeBackendUnavailable, qerrors.GetCode(err))
}
