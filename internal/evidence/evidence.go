// Package evidence stores uploaded evidence files by content hash.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pendergraft/ipenforcer/internal/config"
	"github.com/pendergraft/ipenforcer/internal/storage"
)

// ErrNotFound is returned when no evidence exists for a reference.
var ErrNotFound = errors.New("evidence not found")

// ErrInvalidRef is returned for references that are not sha256 digests.
var ErrInvalidRef = errors.New("invalid evidence reference")

const refPrefix = "sha256:"

// Store persists evidence content. Put returns a reference of the form
// "sha256:<hex>" that Get accepts.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// New creates the evidence store selected by cfg.
func New(ctx context.Context, cfg config.EvidenceConfig, blobs storage.BlobStore, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "database", "":
		return NewDatabaseStore(blobs), nil
	case "s3":
		s, err := NewMinioStore(cfg.S3, logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown evidence storage type: %s", cfg.Type)
	}
}

// Ref returns the reference for data.
func Ref(data []byte) string {
	h := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(h[:])
}

// parseRef returns the hex digest of a reference.
func parseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return strings.ToLower(digest), nil
}
