package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Writers wait instead of failing while another connection holds the lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Arbitration cases
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		artwork_id TEXT NOT NULL,
		reporter_address TEXT NOT NULL,
		attestations TEXT NOT NULL,
		score REAL NOT NULL,
		source_url TEXT,
		evidence_ref TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		submitted_at TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Evidence blobs
	CREATE TABLE IF NOT EXISTS blobs (
		hash TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
	CREATE INDEX IF NOT EXISTS idx_cases_artwork ON cases(artwork_id);
	CREATE INDEX IF NOT EXISTS idx_cases_reporter ON cases(reporter_address);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// RecordCase records a new case
func (s *SQLiteStore) RecordCase(ctx context.Context, c *Case) error {
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

	query := `
		INSERT INTO cases (id, artwork_id, reporter_address, attestations, score, source_url, evidence_ref, status, submitted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		c.ID, c.ArtworkID, c.ReporterAddress, string(attestations), c.Score, c.SourceURL, c.EvidenceRef, status, c.SubmittedAt,
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
func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*Case, error) {
	query := `
		SELECT id, artwork_id, reporter_address, attestations, score, source_url, evidence_ref, status, submitted_at, created_at
		FROM cases
		WHERE id = ?
	`
	c, err := scanCase(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCases lists cases, newest first
func (s *SQLiteStore) ListCases(ctx context.Context, filter CaseFilter, pagination PaginationParams) (*PaginatedResult[Case], error) {
	pagination = normalizePagination(pagination)

	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ArtworkID != "" {
		conds = append(conds, "artwork_id = ?")
		args = append(args, filter.ArtworkID)
	}
	if filter.Reporter != "" {
		conds = append(conds, "LOWER(reporter_address) = LOWER(?)")
		args = append(args, filter.Reporter)
	}

	query := `SELECT id, artwork_id, reporter_address, attestations, score, source_url, evidence_ref, status, submitted_at, created_at FROM cases`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, pagination.Limit+1, pagination.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := []Case{}
	for rows.Next() {
		c, err := scanCase(rows)
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
func (s *SQLiteStore) UpdateCaseStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE cases SET status = ? WHERE id = ? AND status <> 'ruled'", status, id)
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
	err = s.db.QueryRowContext(ctx, "SELECT status FROM cases WHERE id = ?", id).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return statusUnchanged(current, status)
}

// PutBlob stores content addressed by its hash
func (s *SQLiteStore) PutBlob(ctx context.Context, content []byte) (string, error) {
	hash := computeHash(content)
	query := `
		INSERT INTO blobs (hash, content, size_bytes, created_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(hash) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, hash, content, len(content)); err != nil {
		return "", err
	}
	return hash, nil
}

// GetBlob retrieves a blob by hash
func (s *SQLiteStore) GetBlob(ctx context.Context, hash string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, "SELECT content FROM blobs WHERE hash = ?", hash).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return content, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*Case, error) {
	var c Case
	var attestations string
	var sourceURL, evidenceRef sql.NullString
	err := row.Scan(
		&c.ID, &c.ArtworkID, &c.ReporterAddress, &attestations, &c.Score, &sourceURL, &evidenceRef, &c.Status, &c.SubmittedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.SourceURL = sourceURL.String
	c.EvidenceRef = evidenceRef.String
	if err := json.Unmarshal([]byte(attestations), &c.Attestations); err != nil {
		return nil, fmt.Errorf("decoding attestations for case %s: %w", c.ID, err)
	}
	return &c, nil
}
