package auth_test

import (
	"crypto/rand"
	"testing"

	"github.com/pilab-dev/shadow-auth/internal/auth"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if err := hasher.Verify(hash, "secret"); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
	if err := hasher.Verify(hash, "Secret"); err == nil {
		t.Errorf("Verify should reject a different secret")
	}

	t.Run("TooLongSecret", func(t *testing.T) {
		tooLong := make([]byte, 73)
		rand.Read(tooLong)

		if _, err := hasher.Hash(string(tooLong)); err == nil {
			t.Errorf("Hash should have failed")
		}
	})

	t.Run("BurnCompare", func(t *testing.T) {
		// Must not panic on repeated use.
		hasher.BurnCompare("anything")
		hasher.BurnCompare("anything else")
	})
}

func TestDefaultCost(t *testing.T) {
	if got := auth.NewBcryptHasher(0).Cost; got != bcrypt.DefaultCost {
		t.Errorf("expected default cost %d, got %d", bcrypt.DefaultCost, got)
	}
}
