package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix is the prefix for all operator tokens
	TokenPrefix = "ipe_op_"
	// TokenLength is the length of the random part of the token
	TokenLength = 32
)

// GenerateToken generates a new operator token.
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(bytes), nil
}

// HashToken hashes a token for configuration.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Validator checks presented tokens and names the operator they belong to.
type Validator interface {
	Validate(token string) (operator string, ok bool)
}

// StaticTokens accepts tokens whose hash is in a fixed list.
type StaticTokens struct {
	hashes [][]byte
}

// NewStaticTokens builds a validator from hex sha256 digests. Malformed
// digests are rejected.
func NewStaticTokens(hashes []string) (*StaticTokens, error) {
	st := &StaticTokens{}
	for _, h := range hashes {
		digest, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil || len(digest) != sha256.Size {
			return nil, fmt.Errorf("invalid operator token hash %q", h)
		}
		st.hashes = append(st.hashes, digest)
	}
	return st, nil
}

// Validate implements Validator. The operator name is the first eight hex
// characters of the token hash.
func (s *StaticTokens) Validate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	found := 0
	for _, h := range s.hashes {
		found |= subtle.ConstantTimeCompare(sum[:], h)
	}
	if found != 1 {
		return "", false
	}
	return hex.EncodeToString(sum[:4]), true
}
