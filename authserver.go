// Package sauth is the token issuance engine of the authorization server:
// credential validation, authorization codes, access token signing, refresh
// token rotation and the grant state machine tying them together.
package sauth

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/audit"
	"github.com/pilab-dev/shadow-auth/internal/crypto"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/pilab-dev/shadow-auth/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pilab-dev/shadow-auth"

// Options tunes lifetimes and the issuer. Zero values select the defaults.
type Options struct {
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Dependencies are the collaborators the engine is built from. Clients,
// Users, Hasher, AuthCodes, RefreshTokens and KeyPair are required.
type Dependencies struct {
	Clients       domain.ClientRegistry
	Users         domain.UserStore
	Hasher        domain.SecretHasher
	AuthCodes     domain.AuthCodeRepository
	RefreshTokens domain.RefreshTokenRepository
	KeyPair       *crypto.KeyPair

	Logger  log.Logger
	Metrics *metrics.Collector
	Audit   *audit.Logger
	Tracer  trace.Tracer

	Options Options
}

// AuthServer is the process-wide engine context. It is constructed once at
// startup and shared by all request handlers.
type AuthServer struct {
	Validator  *CredentialValidator
	AuthCodes  *AuthCodeStore
	Signer     *TokenSigner
	Refresh    *RefreshTokenManager
	Dispatcher *GrantDispatcher

	Options Options
}

var ErrMissingDependency = stderrors.New("missing dependency")

// NewAuthServer wires the engine in a fixed order: validator, code store, signer,
// refresh token manager, dispatcher.
func NewAuthServer(deps Dependencies) (*AuthServer, error) {
	switch {
	case deps.Clients == nil:
		return nil, missing("client registry")
	case deps.Users == nil:
		return nil, missing("user store")
	case deps.Hasher == nil:
		return nil, missing("secret hasher")
	case deps.AuthCodes == nil:
		return nil, missing("authorization code repository")
	case deps.RefreshTokens == nil:
		return nil, missing("refresh token repository")
	case deps.KeyPair == nil:
		return nil, missing("signing keypair")
	}

	opts := deps.Options
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if opts.AuthCodeTTL <= 0 {
		opts.AuthCodeTTL = DefaultAuthCodeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	validator := NewCredentialValidator(deps.Clients, deps.Users, deps.Hasher)
	codes := NewAuthCodeStore(deps.AuthCodes, opts.AuthCodeTTL, opts.Now, logger)
	signer := NewTokenSigner(deps.KeyPair, opts.Issuer, opts.Now)
	refresh := NewRefreshTokenManager(deps.RefreshTokens, opts.RefreshTokenTTL, opts.Now, logger)

	dispatcher := &GrantDispatcher{
		validator: validator,
		codes:     codes,
		signer:    signer,
		refresh:   refresh,
		accessTTL: opts.AccessTokenTTL,
		now:       opts.Now,
		logger:    logger.With(log.Fields{"component": "grant_dispatcher"}),
		metrics:   deps.Metrics,
		audit:     deps.Audit,
		tracer:    tracer,
	}
	dispatcher.grants = map[string]grantHandler{
		domain.GrantTypePassword:          dispatcher.passwordGrant,
		domain.GrantTypeAuthorizationCode: dispatcher.authorizationCodeGrant,
		domain.GrantTypeRefreshToken:      dispatcher.refreshTokenGrant,
	}

	return &AuthServer{
		Validator:  validator,
		AuthCodes:  codes,
		Signer:     signer,
		Refresh:    refresh,
		Dispatcher: dispatcher,
		Options:    opts,
	}, nil
}

func missing(what string) error {
	return fmt.Errorf("%w: %s", ErrMissingDependency, what)
}
