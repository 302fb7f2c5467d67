package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	qerrors "github.com/quiver-search/quiver/internal/errors"
)

// Executor runs operations with retry and a per-operation circuit breaker.
// A zero-ish Config is normalized to defaults.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewExecutor creates an executor with the given configuration.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under the named operation's circuit breaker, retrying
// retryable failures with exponential backoff. Context cancellation is
// honored between attempts and takes precedence over retry policy.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}

	if !e.cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, fn)
	}

	breaker := e.circuitBreaker(operation)
	_, err := breaker.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, fn)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return qerrors.Wrap(qerrors.ErrCodeBackendUnavailable, err)
	}
	return err
}

func (e *Executor) executeWithRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := e.cfg.RetryInitialBackoff

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == e.cfg.RetryMaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * e.cfg.RetryMultiplier)
		if backoff > e.cfg.RetryMaxBackoff {
			backoff = e.cfg.RetryMaxBackoff
		}
	}

	return lastErr
}

func (e *Executor) circuitBreaker(operation string) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}

	cfg := e.cfg
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
	})
	e.breakers[operation] = cb
	return cb
}

// retryable reports whether an error is worth retrying. Structured errors
// carry an explicit flag; context errors and validation failures are not
// retried, everything else is treated as transient.
func retryable(err error) bool {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}
	if code := qerrors.GetCode(err); code != "" {
		return qerrors.IsRetryable(err)
	}
	return true
}
