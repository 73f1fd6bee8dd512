package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Open(ctx context.Context, artworkID string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.Open(ctx, artworkID)
	attrs := []any{"artwork", artworkID, "duration", time.Since(start), "error", err}
	if sess != nil {
		attrs = append(attrs, "session", sess.ID)
	}
	m.logger.Info("Open", attrs...)
	return sess, err
}

func (m *loggingMiddleware) Get(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.Get(ctx, id)
	m.logger.Debug("Get",
		"session", id,
		"duration", time.Since(start),
		"error", err,
	)
	return sess, err
}

func (m *loggingMiddleware) Await(ctx context.Context, id string, state workflow.State) (*Session, error) {
	start := time.Now()
	sess, err := m.next.Await(ctx, id, state)
	m.logger.Debug("Await",
		"session", id,
		"want", state,
		"reached", sess != nil && sess.Workflow.State == state,
		"duration", time.Since(start),
		"error", err,
	)
	return sess, err
}

func (m *loggingMiddleware) Close(ctx context.Context, id string) error {
	start := time.Now()
	err := m.next.Close(ctx, id)
	m.logger.Info("Close",
		"session", id,
		"duration", time.Since(start),
		"error", err,
	)
	return err
}

func (m *loggingMiddleware) SubmitReport(ctx context.Context, id string, req ReportRequest) (*Session, error) {
	start := time.Now()
	sess, err := m.next.SubmitReport(ctx, id, req)
	attrs := []any{"session", id, "hasURL", req.SourceURL != "", "hasEvidence", req.Evidence != nil}
	if req.Evidence != nil {
		attrs = append(attrs, "evidence", req.Evidence.Name, "bytes", len(req.Evidence.Data))
	}
	m.logger.Info("SubmitReport", append(attrs, "duration", time.Since(start), "error", err)...)
	return sess, err
}

func (m *loggingMiddleware) ToggleAttestation(ctx context.Context, id, criterion string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.ToggleAttestation(ctx, id, criterion)
	m.logger.Info("ToggleAttestation",
		"session", id,
		"criterion", criterion,
		"duration", time.Since(start),
		"error", err,
	)
	return sess, err
}

func (m *loggingMiddleware) TriggerDispute(ctx context.Context, id string) (workflow.DisputeOutcome, *Session, error) {
	start := time.Now()
	outcome, sess, err := m.next.TriggerDispute(ctx, id)
	m.logger.Info("TriggerDispute",
		"session", id,
		"outcome", outcome,
		"duration", time.Since(start),
		"error", err,
	)
	return outcome, sess, err
}

func (m *loggingMiddleware) ConnectWallet(ctx context.Context, id, address string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.ConnectWallet(ctx, id, address)
	m.logger.Info("ConnectWallet",
		"session", id,
		"address", address,
		"duration", time.Since(start),
		"error", err,
	)
	return sess, err
}

func (m *loggingMiddleware) DisconnectWallet(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.DisconnectWallet(ctx, id)
	m.logger.Info("DisconnectWallet",
		"session", id,
		"duration", time.Since(start),
		"error", err,
	)
	return sess, err
}

func (m *loggingMiddleware) OpenDetail(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.OpenDetail(ctx, id)
	m.logger.Debug("OpenDetail", "session", id, "duration", time.Since(start), "error", err)
	return sess, err
}

func (m *loggingMiddleware) CloseDetail(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.CloseDetail(ctx, id)
	m.logger.Debug("CloseDetail", "session", id, "duration", time.Since(start), "error", err)
	return sess, err
}

func (m *loggingMiddleware) RequestRecap(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	sess, err := m.next.RequestRecap(ctx, id)
	m.logger.Info("RequestRecap",
		"session", id,
		"duration", time.Since(start),
		"error", err,
	)
	return sess, err
}

func (m *loggingMiddleware) Subscribe(ctx context.Context, id string) (<-chan workflow.Snapshot, func(), error) {
	ch, cancel, err := m.next.Subscribe(ctx, id)
	m.logger.Debug("Subscribe", "session", id, "error", err)
	return ch, cancel, err
}

func (m *loggingMiddleware) ExpireIdle(ctx context.Context) int {
	n := m.next.ExpireIdle(ctx)
	if n > 0 {
		m.logger.Info("ExpireIdle", "expired", n)
	}
	return n
}

func (m *loggingMiddleware) Shutdown() {
	m.next.Shutdown()
	m.logger.Info("Shutdown")
}
