package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/ipenforcer/internal/config"
)

// Case statuses
const (
	CaseQueued   = "queued"
	CaseDisputed = "disputed"
	CaseRuled    = "ruled"
)

// CaseStore handles arbitration case intake
type CaseStore interface {
	// RecordCase inserts a case. It returns ErrCaseExists when a case with
	// the same ID was already recorded.
	RecordCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter, pagination PaginationParams) (*PaginatedResult[Case], error)
	UpdateCaseStatus(ctx context.Context, id, status string) error
}

// BlobStore handles content-addressed evidence blobs
type BlobStore interface {
	// PutBlob stores content and returns its sha256 hex digest. Storing the
	// same content twice is a no-op.
	PutBlob(ctx context.Context, content []byte) (string, error)
	GetBlob(ctx context.Context, hash string) ([]byte, error)
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	CaseStore
	BlobStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// Case is a dispute handed to the arbitration court
type Case struct {
	ID              string
	ArtworkID       string
	ReporterAddress string
	Attestations    map[string]bool
	Score           float64
	SourceURL       string
	EvidenceRef     string
	Status          string
	SubmittedAt     string
	CreatedAt       string
}

// CaseFilter contains filter options for listing cases
type CaseFilter struct {
	Status    string
	ArtworkID string
	Reporter  string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data    []T
	HasMore bool
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
