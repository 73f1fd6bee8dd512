package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Arbitration cases
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		artwork_id TEXT NOT NULL,
		reporter_address TEXT NOT NULL,
		attestations JSONB NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		source_url TEXT,
		evidence_ref TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		submitted_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Evidence blobs
	CREATE TABLE IF NOT EXISTS blobs (
		hash TEXT PRIMARY KEY,
		content BYTEA NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
	CREATE INDEX IF NOT EXISTS idx_cases_artwork ON cases(artwork_id);
	CREATE INDEX IF NOT EXISTS idx_cases_reporter ON cases(LOWER(reporter_address));
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// RecordCase records a new case
func (s *PostgresStore) RecordCase(ctx context.Context, c *Case) error {
	status := c.Status
	if status == "" {
		status = CaseQueued
	}
	if !validStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	attestations, err := encodeAttestations(c.Attestations)
	if err != nil {
		return err
	}
	submittedAt, err := time.Parse(time.RFC3339Nano, c.SubmittedAt)
	if err != nil {
		return fmt.Errorf("parsing submission time: %w", err)
	}

	query := `
		INSERT INTO cases (id, artwork_id, reporter_address, attestations, score, source_url, evidence_ref, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		c.ID, c.ArtworkID, c.ReporterAddress, attestations, c.Score, c.SourceURL, c.EvidenceRef, status, submittedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCaseExists
	}
	return nil
}

// GetCase retrieves a case by ID
func (s *PostgresStore) GetCase(ctx context.Context, id string) (*Case, error) {
	query := `
		SELECT id, artwork_id, reporter_address, attestations, score, source_url, evidence_ref, status, submitted_at, created_at
		FROM cases
		WHERE id = $1
	`
	c, err := scanPostgresCase(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCases lists cases, newest first
func (s *PostgresStore) ListCases(ctx context.Context, filter CaseFilter, pagination PaginationParams) (*PaginatedResult[Case], error) {
	pagination = normalizePagination(pagination)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(filter.Status))
	}
	if filter.ArtworkID != "" {
		conds = append(conds, "artwork_id = "+arg(filter.ArtworkID))
	}
	if filter.Reporter != "" {
		conds = append(conds, "LOWER(reporter_address) = LOWER("+arg(filter.Reporter)+")")
	}

	query := `SELECT id, artwork_id, reporter_address, attestations, score, source_url, evidence_ref, status, submitted_at, created_at FROM cases`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id LIMIT " + arg(pagination.Limit+1) + " OFFSET " + arg(pagination.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := []Case{}
	for rows.Next() {
		c, err := scanPostgresCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}

	hasMore := len(cases) > pagination.Limit
	if hasMore {
		cases = cases[:pagination.Limit]
	}

	return &PaginatedResult[Case]{Data: cases, HasMore: hasMore}, rows.Err()
}

// UpdateCaseStatus moves a case to a new status. A ruled case is final:
// moving it returns ErrCaseRuled.
func (s *PostgresStore) UpdateCaseStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE cases SET status = $1 WHERE id = $2 AND status <> 'ruled'", status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM cases WHERE id = $1", id).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return statusUnchanged(current, status)
}

// PutBlob stores content addressed by its hash
func (s *PostgresStore) PutBlob(ctx context.Context, content []byte) (string, error) {
	hash := computeHash(content)
	query := `
		INSERT INTO blobs (hash, content, size_bytes)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, hash, content, len(content)); err != nil {
		return "", err
	}
	return hash, nil
}

// GetBlob retrieves a blob by hash
func (s *PostgresStore) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, "SELECT content FROM blobs WHERE hash = $1", hash).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return content, err
}

func scanPostgresCase(row rowScanner) (*Case, error) {
	var c Case
	var attestations []byte
	var sourceURL, evidenceRef sql.NullString
	var submittedAt, createdAt time.Time
	err := row.Scan(
		&c.ID, &c.ArtworkID, &c.ReporterAddress, &attestations, &c.Score, &sourceURL, &evidenceRef, &c.Status, &submittedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	c.SourceURL = sourceURL.String
	c.EvidenceRef = evidenceRef.String
	c.SubmittedAt = submittedAt.UTC().Format(time.RFC3339Nano)
	c.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
	if err := json.Unmarshal(attestations, &c.Attestations); err != nil {
		return nil, fmt.Errorf("decoding attestations for case %s: %w", c.ID, err)
	}
	return &c, nil
}
