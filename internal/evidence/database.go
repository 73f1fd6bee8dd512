package evidence

import (
	"context"
	"errors"
	"fmt"

	"github.com/pendergraft/ipenforcer/internal/storage"
)

// DatabaseStore keeps evidence in the blobs table of the main database.
type DatabaseStore struct {
	blobs storage.BlobStore
}

// NewDatabaseStore creates a store backed by blobs.
func NewDatabaseStore(blobs storage.BlobStore) *DatabaseStore {
	return &DatabaseStore{blobs: blobs}
}

// Put stores data and returns its reference.
func (s *DatabaseStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	hash, err := s.blobs.PutBlob(ctx, data)
	if err != nil {
		return "", fmt.Errorf("storing evidence %s: %w", name, err)
	}
	return refPrefix + hash, nil
}

// Get returns the content for ref.
func (s *DatabaseStore) Get(ctx context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.GetBlob(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}
