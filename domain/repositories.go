package domain

import (
	"context"
	"time"
)

// UserLookup resolves resource owners by username.
type UserLookup interface {
	LookupUser(ctx context.Context, username string) (*User, error)
}

// UserStore is the external user store: lookup plus password verification.
// The server never handles password hashes itself.
type UserStore interface {
	UserLookup
	VerifyPassword(user *User, candidate string) bool
}

// SecretHasher hashes and verifies client secrets and passwords.
// Verify must compare in constant time.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(hash, candidate string) error
}

// ClientRegistry resolves registered clients by id.
type ClientRegistry interface {
	LookupClient(ctx context.Context, clientID string) (*Client, error)
}

// AuthCodeRepository persists authorization codes.
//
// ConsumeAuthCode is a compare-and-swap: it flips Consumed from false to true
// only when the code exists, is unexpired at now, belongs to clientID and
// RedirectMatches(redirectURI). A failed check leaves the code untouched.
// Exactly one concurrent caller can succeed for a given code.
//
// SaveAuthCode and SaveRefreshToken never overwrite: an existing key fails
// with ErrAuthCodeDuplicate or ErrRefreshTokenDuplicate.
type AuthCodeRepository interface {
	SaveAuthCode(ctx context.Context, code *AuthorizationCode) error
	ConsumeAuthCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*AuthorizationCode, error)
	DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository persists refresh tokens keyed by their hash.
//
// RedeemRefreshToken is a compare-and-swap on Redeemed with the same
// guarantees as ConsumeAuthCode. FindRefreshToken is a plain read.
type RefreshTokenRepository interface {
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RedeemRefreshToken(ctx context.Context, tokenHash, clientID string, now time.Time) (*RefreshToken, error)
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}
