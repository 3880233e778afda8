// Package tokenclaims maps access tokens to JWT claims and classifies JWT
// verification failures. It is shared by the signer and the remote verifier.
package tokenclaims

import (
	stderrors "errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
)

// SigningAlgorithm is the only accepted JWS algorithm.
const SigningAlgorithm = "RS256"

// AccessClaims is the JWT body of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scope    []string `json:"scope"`
}

// FromAccessToken builds the claims for t.
func FromAccessToken(t *domain.AccessToken, issuer string) *AccessClaims {
	return &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.JTI,
			Subject:   t.Username,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
		ClientID: t.ClientID,
		Scope:    t.Scope,
	}
}

// AccessToken converts verified claims back to the domain shape.
func (c *AccessClaims) AccessToken() *domain.AccessToken {
	t := &domain.AccessToken{
		JTI:      c.ID,
		ClientID: c.ClientID,
		Username: c.Subject,
		Scope:    c.Scope,
	}
	if c.IssuedAt != nil {
		t.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt.Time
	}

	return t
}

// ParserOptions returns the parser options every verifier applies.
func ParserOptions(issuer string, extra ...jwt.ParserOption) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{SigningAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return append(opts, extra...)
}

// Classify maps a jwt parse error to MalformedToken, ExpiredToken or InvalidToken.
// The signature is checked before claims, so a tampered expired token is
// reported as invalid rather than expired.
func Classify(err error) *errors.OAuth2Error {
	switch {
	case stderrors.Is(err, jwt.ErrTokenMalformed):
		return errors.NewMalformedToken("Token is malformed").WithCause(err)
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.NewInvalidToken("Token signature is invalid").WithCause(err)
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return errors.NewExpiredToken("Token has expired").WithCause(err)
	default:
		return errors.NewInvalidToken("Token is invalid").WithCause(err)
	}
}
