// Package storagetest holds conformance tests shared by every code and
// refresh token backend.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Racers is the number of goroutines fighting over one code or token.
const Racers = 16

// NewCode returns an unconsumed code for client "client" expiring in ttl.
func NewCode(ttl time.Duration) *domain.AuthorizationCode {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &domain.AuthorizationCode{
		Code:        "code-" + uuid.NewString(),
		ClientID:    "client",
		Username:    "john",
		Scope:       []string{"read"},
		RedirectURI: "http://localhost:7000/home",
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

// NewRefreshToken returns an unredeemed token for client "client".
func NewRefreshToken(ttl time.Duration) *domain.RefreshToken {
	now := time.Now().UTC().Truncate(time.Millisecond)
	value := uuid.NewString()

	return &domain.RefreshToken{
		Value:     value,
		TokenHash: "hash-" + value,
		ClientID:  "client",
		Username:  "john",
		Scope:     []string{"read", "write"},
		ChainID:   uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// AuthCodeRepository runs the conformance suite against repo.
func AuthCodeRepository(t *testing.T, repo domain.AuthCodeRepository) {
	t.Helper()
	ctx := context.Background()

	t.Run("consume once", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		require.NoError(t, repo.SaveAuthCode(ctx, code))

		got, err := repo.ConsumeAuthCode(ctx, code.Code, "client", code.RedirectURI, time.Now())
		require.NoError(t, err)
		assert.Equal(t, code.Username, got.Username)
		assert.Equal(t, code.Scope, got.Scope)
		assert.Equal(t, code.RedirectURI, got.RedirectURI)
		assert.True(t, got.Consumed)

		_, err = repo.ConsumeAuthCode(ctx, code.Code, "client", code.RedirectURI, time.Now())
		assert.ErrorIs(t, err, domain.ErrAuthCodeConsumed)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := repo.ConsumeAuthCode(ctx, "does-not-exist", "client", "", time.Now())
		assert.ErrorIs(t, err, domain.ErrAuthCodeNotFound)
	})

	t.Run("expired code", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		require.NoError(t, repo.SaveAuthCode(ctx, code))

		_, err := repo.ConsumeAuthCode(ctx, code.Code, "client", code.RedirectURI, code.ExpiresAt.Add(time.Second))
		assert.ErrorIs(t, err, domain.ErrAuthCodeExpired)
	})

	t.Run("foreign client does not burn the code", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		require.NoError(t, repo.SaveAuthCode(ctx, code))

		_, err := repo.ConsumeAuthCode(ctx, code.Code, "other", code.RedirectURI, time.Now())
		assert.ErrorIs(t, err, domain.ErrClientMismatch)

		_, err = repo.ConsumeAuthCode(ctx, code.Code, "client", code.RedirectURI, time.Now())
		assert.NoError(t, err)
	})

	t.Run("redirect mismatch does not burn the code", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		code.RedirectURIProvided = true
		require.NoError(t, repo.SaveAuthCode(ctx, code))

		_, err := repo.ConsumeAuthCode(ctx, code.Code, "client", "http://evil.example/cb", time.Now())
		assert.ErrorIs(t, err, domain.ErrRedirectMismatch)

		_, err = repo.ConsumeAuthCode(ctx, code.Code, "client", "", time.Now())
		assert.ErrorIs(t, err, domain.ErrRedirectMismatch)

		got, err := repo.ConsumeAuthCode(ctx, code.Code, "client", code.RedirectURI, time.Now())
		require.NoError(t, err)
		assert.True(t, got.RedirectURIProvided)
	})

	t.Run("implicit redirect may be omitted", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		require.NoError(t, repo.SaveAuthCode(ctx, code))

		_, err := repo.ConsumeAuthCode(ctx, code.Code, "client", "", time.Now())
		assert.NoError(t, err)
	})

	t.Run("duplicate code", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		require.NoError(t, repo.SaveAuthCode(ctx, code))
		assert.ErrorIs(t, repo.SaveAuthCode(ctx, code), domain.ErrAuthCodeDuplicate)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		require.NoError(t, repo.SaveAuthCode(ctx, code))

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < Racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := repo.ConsumeAuthCode(ctx, code.Code, "client", code.RedirectURI, time.Now()); err == nil {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete expired", func(t *testing.T) {
		code := NewCode(5 * time.Minute)
		require.NoError(t, repo.SaveAuthCode(ctx, code))

		n, err := repo.DeleteExpiredAuthCodes(ctx, code.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = repo.ConsumeAuthCode(ctx, code.Code, "client", code.RedirectURI, time.Now())
		assert.ErrorIs(t, err, domain.ErrAuthCodeNotFound)
	})
}

// RefreshTokenRepository runs the conformance suite against repo.
func RefreshTokenRepository(t *testing.T, repo domain.RefreshTokenRepository) {
	t.Helper()
	ctx := context.Background()

	t.Run("redeem once", func(t *testing.T) {
		token := NewRefreshToken(time.Hour)
		require.NoError(t, repo.SaveRefreshToken(ctx, token))

		found, err := repo.FindRefreshToken(ctx, token.TokenHash)
		require.NoError(t, err)
		assert.False(t, found.Redeemed)
		assert.Empty(t, found.Value)

		got, err := repo.RedeemRefreshToken(ctx, token.TokenHash, "client", time.Now())
		require.NoError(t, err)
		assert.Equal(t, token.ChainID, got.ChainID)
		assert.Equal(t, token.Scope, got.Scope)
		assert.Equal(t, token.Username, got.Username)

		_, err = repo.RedeemRefreshToken(ctx, token.TokenHash, "client", time.Now())
		assert.ErrorIs(t, err, domain.ErrRefreshTokenRedeemed)

		found, err = repo.FindRefreshToken(ctx, token.TokenHash)
		require.NoError(t, err)
		assert.True(t, found.Redeemed)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := repo.RedeemRefreshToken(ctx, "hash-unknown", "client", time.Now())
		assert.ErrorIs(t, err, domain.ErrRefreshTokenNotFound)

		_, err = repo.FindRefreshToken(ctx, "hash-unknown")
		assert.ErrorIs(t, err, domain.ErrRefreshTokenNotFound)
	})

	t.Run("expired token", func(t *testing.T) {
		token := NewRefreshToken(time.Hour)
		require.NoError(t, repo.SaveRefreshToken(ctx, token))

		_, err := repo.RedeemRefreshToken(ctx, token.TokenHash, "client", token.ExpiresAt.Add(time.Second))
		assert.ErrorIs(t, err, domain.ErrRefreshTokenExpired)
	})

	t.Run("foreign client", func(t *testing.T) {
		token := NewRefreshToken(time.Hour)
		require.NoError(t, repo.SaveRefreshToken(ctx, token))

		_, err := repo.RedeemRefreshToken(ctx, token.TokenHash, "other", time.Now())
		assert.ErrorIs(t, err, domain.ErrClientMismatch)

		_, err = repo.RedeemRefreshToken(ctx, token.TokenHash, "client", time.Now())
		assert.NoError(t, err)
	})

	t.Run("duplicate token", func(t *testing.T) {
		token := NewRefreshToken(time.Hour)
		require.NoError(t, repo.SaveRefreshToken(ctx, token))
		assert.ErrorIs(t, repo.SaveRefreshToken(ctx, token), domain.ErrRefreshTokenDuplicate)

		found, err := repo.FindRefreshToken(ctx, token.TokenHash)
		require.NoError(t, err)
		assert.False(t, found.Redeemed)
	})

	t.Run("concurrent redeem has one winner", func(t *testing.T) {
		token := NewRefreshToken(time.Hour)
		require.NoError(t, repo.SaveRefreshToken(ctx, token))

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < Racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := repo.RedeemRefreshToken(ctx, token.TokenHash, "client", time.Now()); err == nil {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete expired", func(t *testing.T) {
		token := NewRefreshToken(time.Hour)
		require.NoError(t, repo.SaveRefreshToken(ctx, token))

		n, err := repo.DeleteExpiredRefreshTokens(ctx, token.ExpiresAt.Add(time.Second))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = repo.FindRefreshToken(ctx, token.TokenHash)
		assert.ErrorIs(t, err, domain.ErrRefreshTokenNotFound)
	})
}
