package sauth

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/log"
)

// DefaultAuthCodeTTL is the lifetime of an authorization code.
const DefaultAuthCodeTTL = 5 * time.Minute

// AuthCodeStore issues and consumes single-use authorization codes on top of
// an AuthCodeRepository. Atomicity of consumption is the repository's job.
type AuthCodeStore struct {
	repo   domain.AuthCodeRepository
	ttl    time.Duration
	now    func() time.Time
	logger log.Logger
}

func NewAuthCodeStore(repo domain.AuthCodeRepository, ttl time.Duration, now func() time.Time, logger log.Logger) *AuthCodeStore {
	if ttl <= 0 {
		ttl = DefaultAuthCodeTTL
	}
	if now == nil {
		now = time.Now
	}

	return &AuthCodeStore{
		repo:   repo,
		ttl:    ttl,
		now:    now,
		logger: logger,
	}
}

// Issue creates and persists a new code bound to client, owner, scope and
// redirect URI. redirectProvided records whether the authorize request named
// the redirect URI explicitly.
func (s *AuthCodeStore) Issue(ctx context.Context, clientID, username string, scope []string,
	redirectURI string, redirectProvided bool,
) (*domain.AuthorizationCode, error) {
	// A duplicate among 256-bit codes means the random source is broken,
	// but one retry costs nothing.
	for attempt := 0; attempt < 2; attempt++ {
		value, err := randomString(secretBytes)
		if err != nil {
			return nil, errors.NewServerError("failed to generate authorization code").WithCause(err)
		}

		now := s.now().UTC()
		code := &domain.AuthorizationCode{
			Code:                value,
			ClientID:            clientID,
			Username:            username,
			Scope:               scope,
			RedirectURI:         redirectURI,
			RedirectURIProvided: redirectProvided,
			IssuedAt:            now,
			ExpiresAt:           now.Add(s.ttl),
		}

		err = s.repo.SaveAuthCode(ctx, code)
		if err == nil {
			s.logger.Debug(ctx, "Authorization code issued", log.Fields{
				"client_id": clientID,
				"username":  username,
				"code":      shortID(value),
			})

			return code, nil
		}
		if !stderrors.Is(err, domain.ErrAuthCodeDuplicate) {
			return nil, errors.NewServerError("failed to store authorization code").WithCause(err)
		}
	}

	return nil, errors.NewServerError("failed to generate a unique authorization code")
}

// Consume atomically marks the code as used and returns it. Unknown, expired,
// already used or foreign codes fail with InvalidGrant, as does a redirectURI
// that does not match the authorize request. Only a successful call spends
// the code.
func (s *AuthCodeStore) Consume(ctx context.Context, code, clientID, redirectURI string) (*domain.AuthorizationCode, error) {
	ac, err := s.repo.ConsumeAuthCode(ctx, code, clientID, redirectURI, s.now().UTC())
	if err == nil {
		return ac, nil
	}

	switch {
	case stderrors.Is(err, domain.ErrAuthCodeNotFound):
		return nil, errors.NewInvalidGrant("Invalid authorization code: " + shortID(code)).WithCause(err)
	case stderrors.Is(err, domain.ErrAuthCodeConsumed):
		s.logger.Warn(ctx, "Authorization code replayed", log.Fields{"client_id": clientID, "code": shortID(code)})
		return nil, errors.NewInvalidGrant("Authorization code has already been used").WithCause(err)
	case stderrors.Is(err, domain.ErrAuthCodeExpired):
		return nil, errors.NewInvalidGrant("Authorization code has expired").WithCause(err)
	case stderrors.Is(err, domain.ErrClientMismatch):
		return nil, errors.NewInvalidGrant("Authorization code was issued to another client").WithCause(err)
	case stderrors.Is(err, domain.ErrRedirectMismatch):
		return nil, errors.NewInvalidGrant("Redirect URI mismatch").WithCause(err)
	default:
		return nil, errors.NewServerError("failed to consume authorization code").WithCause(err)
	}
}
