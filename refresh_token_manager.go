package sauth

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/log"
)

// DefaultRefreshTokenTTL is the lifetime of a refresh token.
const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

// RefreshTokenManager issues and rotates refresh tokens. Values are random and
// only their SHA-256 hash is handed to the repository.
type RefreshTokenManager struct {
	repo   domain.RefreshTokenRepository
	ttl    time.Duration
	now    func() time.Time
	logger log.Logger
}

func NewRefreshTokenManager(repo domain.RefreshTokenRepository, ttl time.Duration, now func() time.Time, logger log.Logger) *RefreshTokenManager {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	if now == nil {
		now = time.Now
	}

	return &RefreshTokenManager{
		repo:   repo,
		ttl:    ttl,
		now:    now,
		logger: logger,
	}
}

// Issue creates a refresh token. An empty chainID starts a new chain.
func (m *RefreshTokenManager) Issue(ctx context.Context, clientID, username string, scope []string, chainID string) (*domain.RefreshToken, error) {
	if chainID == "" {
		chainID = uuid.NewString()
	}

	for attempt := 0; attempt < 2; attempt++ {
		value, err := randomString(secretBytes)
		if err != nil {
			return nil, errors.NewServerError("failed to generate refresh token").WithCause(err)
		}

		now := m.now().UTC()
		token := &domain.RefreshToken{
			Value:     value,
			TokenHash: HashToken(value),
			ClientID:  clientID,
			Username:  username,
			Scope:     scope,
			ChainID:   chainID,
			IssuedAt:  now,
			ExpiresAt: now.Add(m.ttl),
		}

		err = m.repo.SaveRefreshToken(ctx, token)
		if err == nil {
			return token, nil
		}
		if !stderrors.Is(err, domain.ErrRefreshTokenDuplicate) {
			return nil, errors.NewServerError("failed to store refresh token").WithCause(err)
		}
		m.logger.Warn(ctx, "Refresh token hash collision", log.Fields{"client_id": clientID})
	}

	return nil, errors.NewServerError("failed to generate a unique refresh token")
}

// Peek looks a token up without redeeming it. The result is advisory: only
// Redeem decides whether the caller may use the token.
func (m *RefreshTokenManager) Peek(ctx context.Context, value, clientID string) (*domain.RefreshToken, error) {
	token, err := m.repo.FindRefreshToken(ctx, HashToken(value))
	if err != nil {
		return nil, m.mapError(ctx, err, clientID, value)
	}

	switch {
	case token.ClientID != clientID:
		return nil, m.mapError(ctx, domain.ErrClientMismatch, clientID, value)
	case token.Redeemed:
		return nil, m.mapError(ctx, domain.ErrRefreshTokenRedeemed, clientID, value)
	case token.IsExpired(m.now()):
		return nil, m.mapError(ctx, domain.ErrRefreshTokenExpired, clientID, value)
	}

	return token, nil
}

// Redeem atomically invalidates the token and returns its grant. Of concurrent
// callers presenting the same value exactly one succeeds.
func (m *RefreshTokenManager) Redeem(ctx context.Context, value, clientID string) (*domain.RefreshToken, error) {
	token, err := m.repo.RedeemRefreshToken(ctx, HashToken(value), clientID, m.now().UTC())
	if err != nil {
		return nil, m.mapError(ctx, err, clientID, value)
	}

	return token, nil
}

func (m *RefreshTokenManager) mapError(ctx context.Context, err error, clientID, value string) error {
	switch {
	case stderrors.Is(err, domain.ErrRefreshTokenNotFound):
		return errors.NewInvalidGrant("Invalid refresh token: " + shortID(value)).WithCause(err)
	case stderrors.Is(err, domain.ErrRefreshTokenRedeemed):
		m.logger.Warn(ctx, "Refresh token replayed", log.Fields{"client_id": clientID, "token": shortID(value)})
		return errors.NewInvalidGrant("Refresh token has already been used").WithCause(err)
	case stderrors.Is(err, domain.ErrRefreshTokenExpired):
		return errors.NewInvalidGrant("Refresh token has expired").WithCause(err)
	case stderrors.Is(err, domain.ErrClientMismatch):
		return errors.NewInvalidGrant("Refresh token was issued to another client").WithCause(err)
	default:
		return errors.NewServerError("failed to redeem refresh token").WithCause(err)
	}
}
