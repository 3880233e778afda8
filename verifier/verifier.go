// Package verifier lets resource servers check access tokens offline
// against the authorization server's published JWKS.
package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/tokenclaims"
	"github.com/pilab-dev/shadow-auth/log"
)

// Options tunes the JWKS refresh behaviour.
type Options struct {
	// Issuer, when set, must match the iss claim.
	Issuer string
	// RefreshInterval re-fetches the JWKS periodically. Zero disables it.
	RefreshInterval time.Duration
	Logger          log.Logger
}

// RemoteVerifier verifies RS256 access tokens with keys fetched from a JWKS URL.
type RemoteVerifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewRemoteVerifier fetches the key set once and, if configured, keeps it
// fresh in the background until Close.
func NewRemoteVerifier(ctx context.Context, jwksURL string, opts Options) (*RemoteVerifier, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   opts.RefreshInterval,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn(ctx, "JWKS refresh failed", log.Fields{"url": jwksURL, "error": err.Error()})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &RemoteVerifier{
		jwks:   jwks,
		issuer: opts.Issuer,
	}, nil
}

// Verify checks the token and returns its claims. Failures are
// MalformedToken, InvalidToken or ExpiredToken errors.
func (v *RemoteVerifier) Verify(tokenString string) (*domain.AccessToken, error) {
	claims := &tokenclaims.AccessClaims{}

	if _, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, tokenclaims.ParserOptions(v.issuer)...); err != nil {
		return nil, tokenclaims.Classify(err)
	}

	return claims.AccessToken(), nil
}

// KIDs lists the key ids currently known.
func (v *RemoteVerifier) KIDs() []string {
	return v.jwks.KIDs()
}

// Close stops the background refresh.
func (v *RemoteVerifier) Close() {
	v.jwks.EndBackground()
}
