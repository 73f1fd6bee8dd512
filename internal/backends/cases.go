package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/ipenforcer/internal/observability/metrics"
	"github.com/pendergraft/ipenforcer/internal/storage"
	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// CaseWriter is the storage the case intake needs.
type CaseWriter interface {
	RecordCase(ctx context.Context, c *storage.Case) error
}

// CaseIntake records each dispute submission as a queued arbitration case.
// The case is picked up by the court process out of band.
type CaseIntake struct {
	store  CaseWriter
	logger *slog.Logger
}

// NewCaseIntake creates a case intake backed by store.
func NewCaseIntake(store CaseWriter, logger *slog.Logger) *CaseIntake {
	return &CaseIntake{store: store, logger: logger}
}

// Submit implements workflow.DisputeBackend. A submission whose case was
// already recorded is treated as delivered.
func (c *CaseIntake) Submit(ctx context.Context, sub workflow.Submission) error {
	record := &storage.Case{
		ID:              sub.ID,
		ArtworkID:       sub.ArtworkID,
		ReporterAddress: sub.ReporterAddress,
		Attestations:    sub.Attestations.Map(),
		Score:           sub.Score,
		SourceURL:       sub.SourceURL,
		EvidenceRef:     sub.EvidenceRef,
		Status:          storage.CaseQueued,
		SubmittedAt:     sub.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	err := c.store.RecordCase(ctx, record)
	switch {
	case errors.Is(err, storage.ErrCaseExists):
		metrics.CaseRecord("duplicate")
		c.logger.Info("case already recorded", "case", sub.ID)
		return nil
	case err != nil:
		metrics.CaseRecord("error")
		return fmt.Errorf("recording case %s: %w", sub.ID, err)
	}

	metrics.CaseRecord("success")
	c.logger.Info("case queued for arbitration",
		"case", sub.ID,
		"artwork", sub.ArtworkID,
		"reporter", sub.ReporterAddress,
		"attestations", sub.Attestations.Count(),
	)
	return nil
}
