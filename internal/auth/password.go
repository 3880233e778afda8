package auth

import (
	"fmt"
	"sync"

	"github.com/pilab-dev/shadow-auth/domain"
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher hashes client secrets and user passwords with bcrypt.
// bcrypt.CompareHashAndPassword compares in constant time.
type BcryptHasher struct {
	Cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewBcryptHasher creates a BcryptHasher. Default cost is bcrypt.DefaultCost if cost <= 0.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash generates a bcrypt hash for the given secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash generation failed: %w", err)
	}
	return string(hashed), nil
}

// Verify compares a bcrypt hash with a candidate secret.
// Returns nil on success, bcrypt.ErrMismatchedHashAndPassword on mismatch.
func (h *BcryptHasher) Verify(hash, candidate string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate))
}

// BurnCompare performs a comparison against a throwaway hash. Callers use it
// when the principal is unknown so the response time matches a real mismatch.
func (h *BcryptHasher) BurnCompare(candidate string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("shadow-auth-dummy"), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(candidate))
}

var _ domain.SecretHasher = (*BcryptHasher)(nil)
