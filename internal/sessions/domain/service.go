// Package domain hosts report workflows, one per artwork page session.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pendergraft/ipenforcer/internal/evidence"
	"github.com/pendergraft/ipenforcer/internal/gallery"
	"github.com/pendergraft/ipenforcer/internal/observability/metrics"
	"github.com/pendergraft/ipenforcer/internal/validation"
	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// Common errors returned by the session service.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnknownArtwork   = errors.New("unknown artwork")
	ErrTooManySessions  = errors.New("too many active sessions")
	ErrInvalidSourceURL = errors.New("invalid source URL")
	ErrInvalidAddress   = errors.New("invalid wallet address")
	ErrInvalidEvidence  = errors.New("invalid evidence file")
	ErrEvidenceTooLarge = errors.New("evidence file too large")
	ErrEvidenceType     = errors.New("evidence file type not accepted")
)

// Service defines the session service interface.
type Service interface {
	// Open starts a session on a gallery artwork.
	Open(ctx context.Context, artworkID string) (*Session, error)

	// Get returns the current view of a session.
	Get(ctx context.Context, id string) (*Session, error)

	// Await waits until the session's workflow is in state or has failed.
	// When ctx ends first, the current view is returned without error.
	Await(ctx context.Context, id string, state workflow.State) (*Session, error)

	// Close tears a session down.
	Close(ctx context.Context, id string) error

	// SubmitReport stores any evidence and starts the similarity assessment.
	SubmitReport(ctx context.Context, id string, req ReportRequest) (*Session, error)

	// ToggleAttestation flips one criterion by name.
	ToggleAttestation(ctx context.Context, id, criterion string) (*Session, error)

	// TriggerDispute submits the dispute or asks the wallet to connect.
	TriggerDispute(ctx context.Context, id string) (workflow.DisputeOutcome, *Session, error)

	// ConnectWallet records the reporter's connected address.
	ConnectWallet(ctx context.Context, id, address string) (*Session, error)

	// DisconnectWallet clears the reporter's address.
	DisconnectWallet(ctx context.Context, id string) (*Session, error)

	OpenDetail(ctx context.Context, id string) (*Session, error)
	CloseDetail(ctx context.Context, id string) (*Session, error)
	RequestRecap(ctx context.Context, id string) (*Session, error)

	// Subscribe streams workflow snapshots until cancel is called or the
	// session closes.
	Subscribe(ctx context.Context, id string) (<-chan workflow.Snapshot, func(), error)

	// ExpireIdle closes sessions idle since before the TTL and returns how
	// many were closed.
	ExpireIdle(ctx context.Context) int

	// Shutdown closes every session.
	Shutdown()
}

// Dependencies are the capabilities every session workflow is wired to.
type Dependencies struct {
	Similarity workflow.SimilarityService
	Backend    workflow.DisputeBackend
	Recap      workflow.RecapService
	Evidence   evidence.Store
}

// Options tune the session registry.
type Options struct {
	TTL              time.Duration
	MaxSessions      int
	MaxEvidenceBytes int64
	RecapDocument    string
	HighlightWindow  time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

const (
	defaultTTL              = 30 * time.Minute
	defaultMaxSessions      = 10000
	defaultMaxEvidenceBytes = 10 << 20
)

type session struct {
	id        string
	artwork   gallery.Artwork
	wf        *workflow.Workflow
	wallet    *sessionWallet
	createdAt time.Time

	mu         sync.Mutex
	lastActive time.Time
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// service implements the Service interface.
type service struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewService creates a new session service.
func NewService(deps Dependencies, opts Options) (Service, error) {
	switch {
	case deps.Similarity == nil, deps.Backend == nil, deps.Recap == nil:
		return nil, errors.New("sessions: similarity, backend and recap services are required")
	case deps.Evidence == nil:
		return nil, errors.New("sessions: evidence store is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.MaxEvidenceBytes <= 0 {
		opts.MaxEvidenceBytes = defaultMaxEvidenceBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &service{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*session),
	}, nil
}

// Open starts a session on a gallery artwork.
func (s *service) Open(ctx context.Context, artworkID string) (*Session, error) {
	art, err := gallery.Get(artworkID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArtwork, artworkID)
	}

	id := uuid.New().String()
	wallet := &sessionWallet{}
	wf, err := workflow.New(workflow.Config{
		ArtworkID:       art.ID,
		Wallet:          wallet,
		Similarity:      s.deps.Similarity,
		Backend:         s.deps.Backend,
		Recap:           s.deps.Recap,
		RecapDocument:   s.opts.RecapDocument,
		HighlightWindow: s.opts.HighlightWindow,
		Logger:          s.logger.With("session", id),
		OnTransition: func(from, to workflow.State) {
			metrics.WorkflowTransition(string(from), string(to))
		},
		Now: s.opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}

	now := s.opts.Now()
	sess := &session{
		id:         id,
		artwork:    art,
		wf:         wf,
		wallet:     wallet,
		createdAt:  now,
		lastActive: now,
	}

	s.mu.Lock()
	if len(s.sessions) >= s.opts.MaxSessions {
		s.mu.Unlock()
		wf.Close()
		return nil, ErrTooManySessions
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	metrics.SessionOpened()
	return s.view(sess), nil
}

// Get returns the current view of a session.
func (s *service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// Await waits until the workflow is in state or has failed.
func (s *service) Await(ctx context.Context, id string, state workflow.State) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	_, err = sess.wf.Await(ctx, func(snap workflow.Snapshot) bool {
		return snap.State == state || snap.State == workflow.StateFailed
	})
	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
	case errors.Is(err, workflow.ErrClosed):
		return nil, ErrSessionNotFound
	default:
		return nil, err
	}
	return s.view(sess), nil
}

// Close tears a session down.
func (s *service) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.wf.Close()
	metrics.SessionClosed()
	return nil
}

// SubmitReport stores any evidence and starts the similarity assessment.
func (s *service) SubmitReport(ctx context.Context, id string, req ReportRequest) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	draft := workflow.Draft{SourceURL: req.SourceURL}
	if err := s.checkSourceURL(&draft); err != nil {
		return nil, err
	}
	// Evidence is only stored for a report the workflow can take.
	if err := sess.wf.AcceptsReport(); err != nil {
		return nil, mapWorkflowError(err)
	}
	if req.Evidence != nil {
		file, err := s.storeEvidence(ctx, req.Evidence)
		if err != nil {
			return nil, err
		}
		draft.Evidence = file
	}

	if err := sess.wf.SubmitReport(draft); err != nil {
		return nil, mapWorkflowError(err)
	}
	return s.view(sess), nil
}

// checkSourceURL trims the URL; a blank URL counts as absent.
func (s *service) checkSourceURL(draft *workflow.Draft) error {
	draft.SourceURL = strings.TrimSpace(draft.SourceURL)
	if draft.SourceURL == "" {
		return nil
	}
	if err := validation.ValidateSourceURL(draft.SourceURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	return nil
}

func (s *service) storeEvidence(ctx context.Context, up *EvidenceUpload) (*workflow.EvidenceFile, error) {
	contentType, err := validation.ValidateEvidence(up.Name, up.Data, s.opts.MaxEvidenceBytes)
	if err != nil {
		metrics.EvidenceUpload("rejected")
		switch {
		case errors.Is(err, validation.ErrEvidenceTooLarge):
			return nil, fmt.Errorf("%w: %v", ErrEvidenceTooLarge, err)
		case errors.Is(err, validation.ErrEvidenceType):
			return nil, fmt.Errorf("%w: %v", ErrEvidenceType, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvidence, err)
		}
	}

	ref, err := s.deps.Evidence.Put(ctx, up.Name, contentType, up.Data)
	if err != nil {
		metrics.EvidenceUpload("error")
		return nil, fmt.Errorf("storing evidence: %w", err)
	}
	metrics.EvidenceUpload("success")
	if up.ContentType != "" && up.ContentType != contentType {
		s.logger.Debug("evidence content differs from declared type",
			"name", up.Name, "declared", up.ContentType, "detected", contentType)
	}

	return &workflow.EvidenceFile{
		Name:        up.Name,
		ContentType: contentType,
		Size:        int64(len(up.Data)),
		Ref:         ref,
	}, nil
}

// ToggleAttestation flips one criterion by name.
func (s *service) ToggleAttestation(ctx context.Context, id, criterion string) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	c, ok := workflow.ParseCriterion(criterion)
	if !ok {
		return nil, fmt.Errorf("%w: %q", workflow.ErrUnknownCriterion, criterion)
	}
	if err := sess.wf.ToggleAttestation(c); err != nil {
		return nil, mapWorkflowError(err)
	}
	return s.view(sess), nil
}

// TriggerDispute submits the dispute or asks the wallet to connect.
func (s *service) TriggerDispute(ctx context.Context, id string) (workflow.DisputeOutcome, *Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return "", nil, err
	}
	outcome, err := sess.wf.TriggerDispute()
	if err != nil {
		metrics.DisputeTrigger("rejected")
		return "", nil, mapWorkflowError(err)
	}
	metrics.DisputeTrigger(string(outcome))
	return outcome, s.view(sess), nil
}

// ConnectWallet records the reporter's connected address.
func (s *service) ConnectWallet(ctx context.Context, id, address string) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	sess.wallet.connect(address)
	return s.view(sess), nil
}

// DisconnectWallet clears the reporter's address.
func (s *service) DisconnectWallet(ctx context.Context, id string) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	sess.wallet.disconnect()
	return s.view(sess), nil
}

// OpenDetail opens the legal contract view.
func (s *service) OpenDetail(ctx context.Context, id string) (*Session, error) {
	return s.apply(id, (*workflow.Workflow).OpenDetail)
}

// CloseDetail closes the legal contract view and resets its recap.
func (s *service) CloseDetail(ctx context.Context, id string) (*Session, error) {
	return s.apply(id, (*workflow.Workflow).CloseDetail)
}

// RequestRecap starts summarizing the legal contract.
func (s *service) RequestRecap(ctx context.Context, id string) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	before := sess.wf.Snapshot().Recap.State
	if err := sess.wf.RequestRecap(); err != nil {
		metrics.RecapRequest("rejected")
		return nil, mapWorkflowError(err)
	}
	if before == workflow.RecapPending || before == workflow.RecapReady {
		metrics.RecapRequest("ignored")
	} else {
		metrics.RecapRequest("started")
	}
	return s.view(sess), nil
}

// Subscribe streams workflow snapshots.
func (s *service) Subscribe(ctx context.Context, id string) (<-chan workflow.Snapshot, func(), error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.wf.Subscribe()
	return ch, cancel, nil
}

// ExpireIdle closes sessions idle for longer than the TTL.
func (s *service) ExpireIdle(ctx context.Context) int {
	cutoff := s.opts.Now().Add(-s.opts.TTL)

	var expired []*session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.wf.Close()
		metrics.SessionClosed()
		s.logger.Debug("session expired", "session", sess.id, "artwork", sess.artwork.ID)
	}
	return len(expired)
}

// Shutdown closes every session.
func (s *service) Shutdown() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.wf.Close()
		metrics.SessionClosed()
	}
}

// RunReaper expires idle sessions every interval until ctx is done.
func RunReaper(ctx context.Context, svc Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.ExpireIdle(ctx)
		}
	}
}

func (s *service) lookup(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.opts.Now())
	return sess, nil
}

func (s *service) apply(id string, op func(*workflow.Workflow) error) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := op(sess.wf); err != nil {
		return nil, mapWorkflowError(err)
	}
	return s.view(sess), nil
}

func (s *service) view(sess *session) *Session {
	return &Session{
		ID:         sess.id,
		Artwork:    sess.artwork,
		Workflow:   sess.wf.Snapshot(),
		Wallet:     sess.wallet.view(),
		CreatedAt:  sess.createdAt,
		LastActive: sess.idleSince(),
	}
}

// mapWorkflowError reports a workflow closed under a concurrent call as a
// missing session.
func mapWorkflowError(err error) error {
	if errors.Is(err, workflow.ErrClosed) {
		return ErrSessionNotFound
	}
	return err
}
