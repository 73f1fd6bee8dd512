package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// computeHash computes SHA256 hash of content
func computeHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// normalizePagination clamps the limit and offset to sane bounds
func normalizePagination(p PaginationParams) PaginationParams {
	if p.Limit <= 0 {
		p.Limit = defaultListLimit
	}
	if p.Limit > maxListLimit {
		p.Limit = maxListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func validStatus(status string) bool {
	switch status {
	case CaseQueued, CaseDisputed, CaseRuled:
		return true
	}
	return false
}

// statusUnchanged explains an UPDATE guarded by status <> 'ruled' that
// matched no row, given the status currently stored (empty when the case
// does not exist).
func statusUnchanged(current, requested string) error {
	switch current {
	case "":
		return ErrNotFound
	case CaseRuled:
		if requested == CaseRuled {
			return nil
		}
		return ErrCaseRuled
	}
	return fmt.Errorf("case status changed concurrently to %s", current)
}

func encodeAttestations(a map[string]bool) ([]byte, error) {
	if a == nil {
		a = map[string]bool{}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("serializing attestations: %w", err)
	}
	return data, nil
}
