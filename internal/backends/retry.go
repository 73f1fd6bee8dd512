package backends

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// Ensure RetryBackend implements workflow.DisputeBackend
var _ workflow.DisputeBackend = (*RetryBackend)(nil)

// RetryBackend retries transient submission failures of the wrapped
// backend. Only the final error reaches the workflow.
type RetryBackend struct {
	next    workflow.DisputeBackend
	factory func() retry.Backoff
	logger  *slog.Logger
}

// NewRetryBackend retries with exponential backoff starting at base until
// maxDuration has elapsed.
func NewRetryBackend(next workflow.DisputeBackend, base, maxDuration time.Duration, logger *slog.Logger) *RetryBackend {
	return NewRetryBackendWithFactory(next, func() retry.Backoff {
		b := retry.NewExponential(base)
		b = retry.WithCappedDuration(5*time.Second, b)
		b = retry.WithMaxDuration(maxDuration, b)
		return b
	}, logger)
}

// NewRetryBackendWithFactory uses factory to build a fresh backoff per
// submission.
func NewRetryBackendWithFactory(next workflow.DisputeBackend, factory func() retry.Backoff, logger *slog.Logger) *RetryBackend {
	return &RetryBackend{next: next, factory: factory, logger: logger}
}

// Submit implements workflow.DisputeBackend.
func (r *RetryBackend) Submit(ctx context.Context, sub workflow.Submission) error {
	attempt := 0
	return retry.Do(ctx, r.factory(), func(ctx context.Context) error {
		attempt++
		err := r.next.Submit(ctx, sub)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.logger.Warn("dispute submission attempt failed", "submission", sub.ID, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}
