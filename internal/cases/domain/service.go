package domain

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pendergraft/ipenforcer/internal/evidence"
	"github.com/pendergraft/ipenforcer/internal/storage"
	"github.com/pendergraft/ipenforcer/internal/validation"
)

// Common errors returned by the case service.
var (
	ErrNotFound      = errors.New("case not found")
	ErrInvalidStatus = errors.New("invalid case status")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrCaseRuled     = errors.New("case already ruled")
	ErrNoEvidence    = errors.New("case has no evidence file")
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service defines the case service interface.
type Service interface {
	// List lists cases newest first.
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)

	// Get retrieves a case by id.
	Get(ctx context.Context, id string) (*Case, error)

	// SetStatus moves a case to status. Ruled cases are final.
	SetStatus(ctx context.Context, id, status string) (*Case, error)

	// Evidence returns the evidence file attached to a case.
	Evidence(ctx context.Context, id string) (*EvidenceFile, error)
}

// EvidenceReader fetches stored evidence by reference.
type EvidenceReader interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

type service struct {
	store    storage.CaseStore
	evidence EvidenceReader
}

// NewService creates a new case service. Evidence lookups return
// ErrNoEvidence when ev is nil.
func NewService(store storage.CaseStore, ev EvidenceReader) Service {
	return &service{store: store, evidence: ev}
}

func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	if filter.Status != "" && !slices.Contains(Statuses, filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, filter.Status)
	}
	if filter.Reporter != "" {
		if err := validation.ValidateAddress(filter.Reporter); err != nil {
			return nil, fmt.Errorf("%w: reporter: %v", ErrInvalidFilter, err)
		}
	}

	limit := pagination.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)
	offset := max(pagination.Offset, 0)

	result, err := s.store.ListCases(ctx, storage.CaseFilter{
		Status:    filter.Status,
		ArtworkID: filter.ArtworkID,
		Reporter:  filter.Reporter,
	}, storage.PaginationParams{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}

	cases := make([]Case, len(result.Data))
	for i := range result.Data {
		cases[i] = toCase(&result.Data[i])
	}
	return &ListResult{Cases: cases, Limit: limit, Offset: offset, HasMore: result.HasMore}, nil
}

func (s *service) Get(ctx context.Context, id string) (*Case, error) {
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting case: %w", err)
	}
	out := toCase(c)
	return &out, nil
}

func (s *service) SetStatus(ctx context.Context, id, status string) (*Case, error) {
	if !slices.Contains(Statuses, status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	if current.Status == storage.CaseRuled {
		return nil, ErrCaseRuled
	}

	if err := s.store.UpdateCaseStatus(ctx, id, status); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, storage.ErrCaseRuled):
			return nil, ErrCaseRuled
		case errors.Is(err, storage.ErrInvalidStatus):
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		return nil, fmt.Errorf("updating case: %w", err)
	}

	current.Status = status
	return current, nil
}

func (s *service) Evidence(ctx context.Context, id string) (*EvidenceFile, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.EvidenceRef == "" || s.evidence == nil {
		return nil, ErrNoEvidence
	}

	data, err := s.evidence.Get(ctx, c.EvidenceRef)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s is missing from the evidence store", ErrNoEvidence, c.EvidenceRef)
		}
		return nil, fmt.Errorf("fetching evidence: %w", err)
	}

	detected := mimetype.Detect(data)
	return &EvidenceFile{
		Ref:         c.EvidenceRef,
		ContentType: detected.String(),
		Extension:   detected.Extension(),
		Data:        data,
	}, nil
}

func toCase(c *storage.Case) Case {
	return Case{
		ID:              c.ID,
		ArtworkID:       c.ArtworkID,
		ReporterAddress: c.ReporterAddress,
		Attestations:    c.Attestations,
		Score:           c.Score,
		SourceURL:       c.SourceURL,
		EvidenceRef:     c.EvidenceRef,
		Status:          c.Status,
		SubmittedAt:     c.SubmittedAt,
		CreatedAt:       c.CreatedAt,
	}
}
