package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHighlightWindow is how long the high-similarity highlight stays on
// after entering StateReviewing.
const DefaultHighlightWindow = 3 * time.Second

// subscriberBuffer bounds each observer channel. A slow observer loses the
// oldest queued snapshots, never the latest one.
const subscriberBuffer = 16

// DisputeOutcome is the result of a TriggerDispute call that did not fail.
type DisputeOutcome string

const (
	// DisputeStarted means the submission is in flight.
	DisputeStarted DisputeOutcome = "started"
	// DisputeConnectRequested means the wallet was asked to connect and the
	// workflow did not move.
	DisputeConnectRequested DisputeOutcome = "connect_requested"
)

// Config wires a Workflow to its collaborators.
type Config struct {
	ArtworkID  string
	Wallet     WalletStatus
	Similarity SimilarityService
	Backend    DisputeBackend
	Recap      RecapService

	// RecapDocument names the document summarized by the recap side channel.
	RecapDocument   string
	HighlightWindow time.Duration
	Logger          *slog.Logger

	// OnTransition is called with the workflow lock held; it must not call
	// back into the workflow.
	OnTransition func(from, to State)

	Now   func() time.Time
	NewID func() string
}

// Workflow is the state machine of one artwork page session. All methods are
// safe for concurrent use; capability calls run on their own goroutines and
// never block the caller.
type Workflow struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	seq    uint64

	state        State
	failedFrom   State
	draft        *Draft
	assessment   *Assessment
	attestations AttestationSet
	submission   *Submission
	recipient    string
	failure      *Failure

	// attempt identifies the outstanding capability call.
	attempt uint64

	highlight      bool
	highlightTimer *time.Timer

	recap    Recap
	recapGen uint64

	subs    map[int]chan Snapshot
	nextSub int
}

// New creates a workflow in StateIntake.
func New(cfg Config) (*Workflow, error) {
	switch {
	case cfg.Wallet == nil:
		return nil, errors.New("workflow: wallet status is required")
	case cfg.Similarity == nil:
		return nil, errors.New("workflow: similarity service is required")
	case cfg.Backend == nil:
		return nil, errors.New("workflow: dispute backend is required")
	case cfg.Recap == nil:
		return nil, errors.New("workflow: recap service is required")
	}
	if cfg.HighlightWindow <= 0 {
		cfg.HighlightWindow = DefaultHighlightWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Workflow{
		cfg:    cfg,
		logger: logger.With("artwork", cfg.ArtworkID),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIntake,
		recap:  Recap{State: RecapIdle},
		subs:   make(map[int]chan Snapshot),
	}, nil
}

// ArtworkID returns the artwork this workflow reports on.
func (w *Workflow) ArtworkID() string {
	return w.cfg.ArtworkID
}

// Snapshot returns the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// SubmitReport validates the draft and starts the similarity assessment.
// It is accepted in StateIntake, and in StateFailed after a failed
// assessment, where it acts as the retry from intake.
func (w *Workflow) SubmitReport(draft Draft) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.acceptsReportLocked(); err != nil {
		return err
	}

	draft.SourceURL = strings.TrimSpace(draft.SourceURL)
	if !draft.Submittable() {
		return ErrInvalidDraft
	}

	d := draft.clone()
	w.draft = &d
	w.assessment = nil
	w.stopHighlight()
	w.clearFailure()
	w.transition(StateAssessing)

	w.attempt++
	go w.runAssessment(w.attempt, d.clone())
	return nil
}

// AcceptsReport returns the error SubmitReport would return for the
// current state, without changing anything.
func (w *Workflow) AcceptsReport() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acceptsReportLocked()
}

func (w *Workflow) acceptsReportLocked() error {
	if w.closed {
		return ErrClosed
	}
	if w.state != StateIntake && !w.failedAt(StateAssessing) {
		return &StateError{Op: "submit report", State: w.state}
	}
	return nil
}

func (w *Workflow) runAssessment(attempt uint64, draft Draft) {
	var a Assessment
	err := guard(func() error {
		var err error
		a, err = w.cfg.Similarity.Assess(w.ctx, w.cfg.ArtworkID, draft)
		return err
	})
	if err == nil && (math.IsNaN(a.Score) || a.Score < 0 || a.Score > 1) {
		err = fmt.Errorf("similarity score %v out of range", a.Score)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || attempt != w.attempt || w.state != StateAssessing {
		return
	}

	if err != nil {
		w.logger.Warn("similarity assessment failed", "error", err)
		w.fail(StateAssessing, FailureAssessment, err)
		return
	}

	w.assessment = &a
	w.attestations = AttestationSet{}
	w.attestations[CriterionSimilarity] = a.HighSimilarity()
	if a.HighSimilarity() {
		w.startHighlight()
	}
	w.transition(StateReviewing)
}

// ToggleAttestation flips exactly one criterion. It is accepted in
// StateReviewing, and in StateFailed after a failed submission, where it
// returns the workflow to StateReviewing first.
func (w *Workflow) ToggleAttestation(c Criterion) error {
	if !c.Valid() {
		return ErrUnknownCriterion
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	switch {
	case w.state == StateReviewing:
		w.attestations[c] = !w.attestations[c]
		w.emit()
	case w.failedAt(StateSubmitting):
		w.attestations[c] = !w.attestations[c]
		w.clearFailure()
		w.transition(StateReviewing)
	default:
		return &StateError{Op: "toggle attestation", State: w.state}
	}
	return nil
}

// TriggerDispute submits the dispute when the wallet is connected. When it
// is not, the wallet is asked to connect and the workflow does not move.
// It is accepted in StateReviewing, and in StateFailed after a failed
// submission, where it acts as the retry.
func (w *Workflow) TriggerDispute() (DisputeOutcome, error) {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return "", ErrClosed
	}
	if w.state != StateReviewing && !w.failedAt(StateSubmitting) {
		st := w.state
		w.mu.Unlock()
		return "", &StateError{Op: "trigger dispute", State: st}
	}

	address := strings.TrimSpace(w.cfg.Wallet.Address())
	if !w.cfg.Wallet.IsConnected() || address == "" {
		w.mu.Unlock()
		w.logger.Debug("wallet not connected, requesting connection")
		w.cfg.Wallet.RequestConnect()
		return DisputeConnectRequested, nil
	}

	sub := Submission{
		ID:              w.cfg.NewID(),
		ArtworkID:       w.cfg.ArtworkID,
		ReporterAddress: address,
		Attestations:    w.attestations,
		CreatedAt:       w.cfg.Now().UTC(),
	}
	if w.assessment != nil {
		sub.Score = w.assessment.Score
	}
	if w.draft != nil {
		sub.SourceURL = w.draft.SourceURL
		if w.draft.Evidence != nil {
			sub.EvidenceRef = w.draft.Evidence.Ref
		}
	}

	w.submission = &sub
	w.clearFailure()
	w.transition(StateSubmitting)

	w.attempt++
	go w.runSubmission(w.attempt, sub)

	w.mu.Unlock()
	return DisputeStarted, nil
}

func (w *Workflow) runSubmission(attempt uint64, sub Submission) {
	err := guard(func() error {
		return w.cfg.Backend.Submit(w.ctx, sub)
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || attempt != w.attempt || w.state != StateSubmitting {
		return
	}

	if err != nil {
		w.logger.Warn("dispute submission failed", "submission", sub.ID, "error", err)
		w.submission = nil
		w.fail(StateSubmitting, FailureSubmission, err)
		return
	}

	w.recipient = sub.ReporterAddress
	w.logger.Info("dispute submitted", "submission", sub.ID, "reporter", sub.ReporterAddress)
	w.transition(StateSucceeded)
}

// OpenDetail opens the supplementary detail view.
func (w *Workflow) OpenDetail() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !w.recap.DetailOpen {
		w.recap.DetailOpen = true
		w.emit()
	}
	return nil
}

// CloseDetail closes the detail view and resets the recap. A recap still in
// flight is discarded when it completes.
func (w *Workflow) CloseDetail() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if !w.recap.DetailOpen && w.recap.State == RecapIdle {
		return nil
	}
	w.recapGen++
	w.recap = Recap{State: RecapIdle}
	w.emit()
	return nil
}

// RequestRecap starts the recap side channel. Calls while a recap is pending
// or already shown are no-ops.
func (w *Workflow) RequestRecap() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if !w.recap.DetailOpen {
		return ErrDetailClosed
	}
	if w.recap.State == RecapPending || w.recap.State == RecapReady {
		return nil
	}

	w.recapGen++
	w.recap = Recap{DetailOpen: true, State: RecapPending}
	w.emit()

	go w.runRecap(w.recapGen)
	return nil
}

func (w *Workflow) runRecap(gen uint64) {
	var text string
	err := guard(func() error {
		var err error
		text, err = w.cfg.Recap.Summarize(w.ctx, RecapInput{
			ArtworkID: w.cfg.ArtworkID,
			Document:  w.cfg.RecapDocument,
		})
		return err
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || gen != w.recapGen {
		return
	}
	if err != nil {
		w.logger.Warn("recap failed", "error", err)
		w.recap.State = RecapFailed
		w.recap.Error = &Failure{Kind: FailureRecap, Message: err.Error()}
	} else {
		w.recap.State = RecapReady
		w.recap.Text = text
	}
	w.emit()
}

// Subscribe returns a channel that first receives the current snapshot and
// then one snapshot per change. The channel is closed by cancel or Close.
func (w *Workflow) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	w.mu.Lock()
	ch <- w.snapshotLocked()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if c, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(c)
			}
		})
	}
}

// Await blocks until a snapshot satisfies match, the context ends or the
// workflow is closed. It always returns the last snapshot seen.
func (w *Workflow) Await(ctx context.Context, match func(Snapshot) bool) (Snapshot, error) {
	ch, cancel := w.Subscribe()
	defer cancel()

	var last Snapshot
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return last, ErrClosed
			}
			last = s
			if match(s) {
				return s, nil
			}
		case <-ctx.Done():
			if last.Seq == 0 && last.State == "" {
				last = w.Snapshot()
			}
			return last, ctx.Err()
		}
	}
}

// Close tears the workflow down. Outstanding capability calls see their
// context cancelled and their results are discarded.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.cancel()
	w.stopHighlight()
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

func (w *Workflow) failedAt(from State) bool {
	return w.state == StateFailed && w.failedFrom == from
}

func (w *Workflow) clearFailure() {
	w.failure = nil
	w.failedFrom = ""
}

func (w *Workflow) fail(from State, kind FailureKind, err error) {
	w.failure = &Failure{Kind: kind, Message: err.Error()}
	w.failedFrom = from
	w.transition(StateFailed)
}

func (w *Workflow) stopHighlight() {
	if w.highlightTimer != nil {
		w.highlightTimer.Stop()
		w.highlightTimer = nil
	}
	w.highlight = false
}

func (w *Workflow) startHighlight() {
	w.stopHighlight()
	w.highlight = true
	w.highlightTimer = time.AfterFunc(w.cfg.HighlightWindow, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed || !w.highlight {
			return
		}
		w.highlight = false
		w.emit()
	})
}

func (w *Workflow) transition(to State) {
	from := w.state
	w.state = to
	w.logger.Debug("workflow transition", "from", from, "to", to)
	if w.cfg.OnTransition != nil {
		w.cfg.OnTransition(from, to)
	}
	w.emit()
}

func (w *Workflow) emit() {
	w.seq++
	snap := w.snapshotLocked()
	for _, ch := range w.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (w *Workflow) snapshotLocked() Snapshot {
	s := Snapshot{
		Seq:             w.seq,
		ArtworkID:       w.cfg.ArtworkID,
		State:           w.state,
		FailedFrom:      w.failedFrom,
		Attestations:    w.attestations,
		Highlight:       w.highlight,
		RewardRecipient: w.recipient,
		Recap:           w.recap,
	}
	if w.draft != nil {
		d := w.draft.clone()
		s.Draft = &d
	}
	if w.assessment != nil {
		a := *w.assessment
		s.Assessment = &a
	}
	if w.submission != nil {
		sub := *w.submission
		s.Submission = &sub
	}
	if w.failure != nil {
		f := *w.failure
		s.Error = &f
	}
	if w.recap.Error != nil {
		f := *w.recap.Error
		s.Recap.Error = &f
	}
	return s
}

// guard runs a capability call and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability panicked: %v", r)
		}
	}()
	return fn()
}
