package sauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// secretBytes is the entropy of codes and refresh tokens: 256 bits.
const secretBytes = 32

// HashToken returns the storage key for a refresh token value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// randomString returns n random bytes from crypto/rand, base64url encoded
// without padding so it can be placed in a query string unescaped.
func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// shortID returns a log-safe prefix of a secret value.
func shortID(secret string) string {
	if len(secret) <= 6 {
		return "***"
	}

	return secret[:6] + "..."
}
