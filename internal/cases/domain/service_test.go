package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/ipenforcer/internal/evidence"
	"github.com/pendergraft/ipenforcer/internal/storage"
)

const reporter = "0x52908400098527886E0F7030069857D2E4169EE7"

// mockStore implements storage.CaseStore for testing
type mockStore struct {
	cases      map[string]*storage.Case
	lastFilter storage.CaseFilter
	lastPage   storage.PaginationParams
	err        error
	// beforeUpdate runs between the service's read and its write.
	beforeUpdate func(c *storage.Case)
}

func newMockStore(cases ...*storage.Case) *mockStore {
	m := &mockStore{cases: make(map[string]*storage.Case)}
	for _, c := range cases {
		m.cases[c.ID] = c
	}
	return m
}

func (m *mockStore) RecordCase(ctx context.Context, c *storage.Case) error {
	if _, ok := m.cases[c.ID]; ok {
		return storage.ErrCaseExists
	}
	m.cases[c.ID] = c
	return nil
}

func (m *mockStore) GetCase(ctx context.Context, id string) (*storage.Case, error) {
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.cases[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockStore) ListCases(ctx context.Context, filter storage.CaseFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Case], error) {
	m.lastFilter, m.lastPage = filter, pagination
	if m.err != nil {
		return nil, m.err
	}
	var out []storage.Case
	for _, c := range m.cases {
		out = append(out, *c)
	}
	return &storage.PaginatedResult[storage.Case]{Data: out, HasMore: true}, nil
}

func (m *mockStore) UpdateCaseStatus(ctx context.Context, id, status string) error {
	c, ok := m.cases[id]
	if !ok {
		return storage.ErrNotFound
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(c)
	}
	if c.Status == storage.CaseRuled && status != storage.CaseRuled {
		return storage.ErrCaseRuled
	}
	c.Status = status
	return nil
}

func queuedCase(id string) *storage.Case {
	return &storage.Case{
		ID:              id,
		ArtworkID:       "artwork-3",
		ReporterAddress: reporter,
		Attestations:    map[string]bool{"similarity": true},
		Score:           0.83,
		Status:          storage.CaseQueued,
		SubmittedAt:     "2026-10-01T12:00:00Z",
	}
}

func TestService_List(t *testing.T) {
	store := newMockStore(queuedCase("case-1"))
	svc := NewService(store, nil)

	result, err := svc.List(context.Background(), ListFilter{Status: "queued", Reporter: reporter}, PaginationParams{Limit: 500, Offset: -3})
	require.NoError(t, err)
	require.Len(t, result.Cases, 1)
	assert.Equal(t, "case-1", result.Cases[0].ID)
	assert.True(t, result.Cases[0].Attestations["similarity"])
	assert.True(t, result.HasMore)

	assert.Equal(t, storage.PaginationParams{Limit: maxLimit, Offset: 0}, store.lastPage)
	assert.Equal(t, "queued", store.lastFilter.Status)

	result, err = svc.List(context.Background(), ListFilter{}, PaginationParams{})
	require.NoError(t, err)
	assert.Equal(t, defaultLimit, result.Limit)
}

func TestService_ListInvalidFilter(t *testing.T) {
	svc := NewService(newMockStore(), nil)

	tests := []struct {
		name   string
		filter ListFilter
	}{
		{name: "unknown status", filter: ListFilter{Status: "closed"}},
		{name: "bad reporter", filter: ListFilter{Reporter: "0x1234"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.List(context.Background(), tt.filter, PaginationParams{})
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestService_Get(t *testing.T) {
	svc := NewService(newMockStore(queuedCase("case-1")), nil)

	c, err := svc.Get(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, "artwork-3", c.ArtworkID)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_GetStoreError(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("connection reset")

	_, err := NewService(store, nil).Get(context.Background(), "case-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestService_SetStatus(t *testing.T) {
	ruled := queuedCase("case-ruled")
	ruled.Status = storage.CaseRuled
	store := newMockStore(queuedCase("case-1"), ruled)
	svc := NewService(store, nil)
	ctx := context.Background()

	c, err := svc.SetStatus(ctx, "case-1", storage.CaseDisputed)
	require.NoError(t, err)
	assert.Equal(t, storage.CaseDisputed, c.Status)
	assert.Equal(t, storage.CaseDisputed, store.cases["case-1"].Status)

	c, err = svc.SetStatus(ctx, "case-ruled", storage.CaseRuled)
	require.NoError(t, err)
	assert.Equal(t, storage.CaseRuled, c.Status)

	_, err = svc.SetStatus(ctx, "case-ruled", storage.CaseQueued)
	assert.ErrorIs(t, err, ErrCaseRuled)

	_, err = svc.SetStatus(ctx, "case-1", "closed")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.SetStatus(ctx, "missing", storage.CaseRuled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_SetStatusRuledConcurrently(t *testing.T) {
	store := newMockStore(queuedCase("case-1"))
	store.beforeUpdate = func(c *storage.Case) {
		c.Status = storage.CaseRuled
	}
	svc := NewService(store, nil)

	_, err := svc.SetStatus(context.Background(), "case-1", storage.CaseDisputed)
	assert.ErrorIs(t, err, ErrCaseRuled)
	assert.Equal(t, storage.CaseRuled, store.cases["case-1"].Status)
}

// memEvidence implements EvidenceReader for testing
type memEvidence map[string][]byte

func (m memEvidence) Get(ctx context.Context, ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, evidence.ErrNotFound
	}
	return data, nil
}

func TestService_Evidence(t *testing.T) {
	pdf := []byte("%PDF-1.7 screenshot of the copy")
	withEvidence := queuedCase("case-1")
	withEvidence.EvidenceRef = evidence.Ref(pdf)
	lost := queuedCase("case-3")
	lost.EvidenceRef = evidence.Ref([]byte("gone"))

	svc := NewService(newMockStore(withEvidence, queuedCase("case-2"), lost), memEvidence{
		evidence.Ref(pdf): pdf,
	})
	ctx := context.Background()

	file, err := svc.Evidence(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, evidence.Ref(pdf), file.Ref)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, ".pdf", file.Extension)
	assert.Equal(t, pdf, file.Data)

	_, err = svc.Evidence(ctx, "case-2")
	assert.ErrorIs(t, err, ErrNoEvidence)

	_, err = svc.Evidence(ctx, "case-3")
	assert.ErrorIs(t, err, ErrNoEvidence)

	_, err = svc.Evidence(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewService(newMockStore(withEvidence), nil).Evidence(ctx, "case-1")
	assert.ErrorIs(t, err, ErrNoEvidence)
}
