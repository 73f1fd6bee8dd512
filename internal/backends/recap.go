package backends

import (
	"context"
	"time"

	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// StaticRecap returns a fixed summary after a delay.
type StaticRecap struct {
	Text  string
	Delay time.Duration
}

// Summarize implements workflow.RecapService.
func (r StaticRecap) Summarize(ctx context.Context, in workflow.RecapInput) (string, error) {
	if err := sleep(ctx, r.Delay); err != nil {
		return "", err
	}
	return r.Text, nil
}
