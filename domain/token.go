package domain

import "time"

// AccessToken holds the claims of a signed access token. It is never persisted.
type AccessToken struct {
	JTI       string
	ClientID  string
	Username  string
	Scope     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshToken is a rotating, single-use credential. Only the SHA-256 hash of
// the value is stored; Value is populated on issue and never persisted.
type RefreshToken struct {
	Value     string    `json:"-" bson:"-"`
	TokenHash string    `json:"token_hash" bson:"_id"`
	ClientID  string    `json:"client_id" bson:"client_id"`
	Username  string    `json:"username" bson:"username"`
	Scope     []string  `json:"scope" bson:"scope"`
	ChainID   string    `json:"chain_id" bson:"chain_id"`
	IssuedAt  time.Time `json:"issued_at" bson:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
	Redeemed  bool      `json:"redeemed" bson:"redeemed"`
}

// IsExpired reports whether the token is past its expiry at the given instant.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
