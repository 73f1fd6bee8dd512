package backends

import (
	"context"
	"time"

	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// FixedSimilarity reports the same score for every draft after a delay.
type FixedSimilarity struct {
	Score float64
	Delay time.Duration
}

// Assess implements workflow.SimilarityService.
func (s FixedSimilarity) Assess(ctx context.Context, artworkID string, draft workflow.Draft) (workflow.Assessment, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return workflow.Assessment{}, err
	}
	return workflow.Assessment{Score: s.Score}, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
