package sauth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
)

func passwordRequest(clientID, secret, username string, scope ...string) *TokenRequest {
	return &TokenRequest{
		GrantType:    domain.GrantTypePassword,
		ClientID:     clientID,
		ClientSecret: secret,
		Username:     username,
		Password:     "12345",
		Scope:        scope,
	}
}

func refreshRequest(clientID, secret, token string, scope ...string) *TokenRequest {
	return &TokenRequest{
		GrantType:    domain.GrantTypeRefreshToken,
		ClientID:     clientID,
		ClientSecret: secret,
		RefreshToken: token,
		Scope:        scope,
	}
}

func requireKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()

	require.Error(t, err)
	assert.Equal(t, kind, errors.KindOf(err), "error: %v", err)
}

func TestDispatch_ClientChecks(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  *TokenRequest
		kind errors.Kind
	}{
		{
			name: "wrong secret",
			req:  passwordRequest("client", "nope", "john"),
			kind: errors.KindInvalidClient,
		},
		{
			name: "unknown client",
			req:  passwordRequest("ghost", "secret", "john"),
			kind: errors.KindInvalidClient,
		},
		{
			name: "wrong secret beats missing grant type",
			req:  &TokenRequest{ClientID: "client", ClientSecret: "nope"},
			kind: errors.KindInvalidClient,
		},
		{
			name: "missing grant type",
			req:  &TokenRequest{ClientID: "client", ClientSecret: "secret"},
			kind: errors.KindInvalidRequest,
		},
		{
			name: "unsupported grant type",
			req:  &TokenRequest{GrantType: "client_credentials", ClientID: "client", ClientSecret: "secret"},
			kind: errors.KindUnsupportedGrantType,
		},
		{
			name: "grant not allowed for client",
			req:  refreshRequest("legacy", "legacy-secret", "whatever"),
			kind: errors.KindUnauthorizedGrantType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatch(t, tt.req)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestDispatch_Password(t *testing.T) {
	f := newFixture(t)

	res, err := f.dispatch(t, passwordRequest("client", "secret", "john"))
	require.NoError(t, err)

	assert.Equal(t, []string{"read"}, res.Scope)
	assert.Equal(t, DefaultAccessTokenTTL, res.ExpiresIn)
	require.NotNil(t, res.RefreshToken)
	assert.Equal(t, HashToken(res.RefreshToken.Value), res.RefreshToken.TokenHash)

	claims, err := f.server.Signer.Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "john", claims.Username)
	assert.Equal(t, "client", claims.ClientID)
	assert.Equal(t, []string{"read"}, claims.Scope)

	stored, err := f.tokens.FindRefreshToken(t.Context(), res.RefreshToken.TokenHash)
	require.NoError(t, err)
	assert.Empty(t, stored.Value)
	assert.Equal(t, "john", stored.Username)
}

func TestDispatch_PasswordFailures(t *testing.T) {
	f := newFixture(t)

	bad := passwordRequest("client", "secret", "john")
	bad.Password = "wrong"
	_, err := f.dispatch(t, bad)
	requireKind(t, err, errors.KindInvalidUser)
	assert.Equal(t, "Bad credentials", errors.As(err).Description)

	_, err = f.dispatch(t, passwordRequest("client", "secret", "nobody"))
	requireKind(t, err, errors.KindInvalidUser)

	_, err = f.dispatch(t, passwordRequest("client", "secret", ""))
	requireKind(t, err, errors.KindInvalidRequest)

	// app may grant write, john holds only read.
	_, err = f.dispatch(t, passwordRequest("app", "app-secret", "john", "write"))
	requireKind(t, err, errors.KindInvalidScope)

	// client is not registered for write at all.
	_, err = f.dispatch(t, passwordRequest("client", "secret", "bob", "write"))
	requireKind(t, err, errors.KindInvalidScope)
}

func TestDispatch_NoRefreshTokenWithoutGrant(t *testing.T) {
	f := newFixture(t)

	res, err := f.dispatch(t, passwordRequest("legacy", "legacy-secret", "john"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Nil(t, res.RefreshToken)
}

func TestDispatch_RefreshRotation(t *testing.T) {
	f := newFixture(t)

	first, err := f.dispatch(t, passwordRequest("app", "app-secret", "bob"))
	require.NoError(t, err)
	require.NotNil(t, first.RefreshToken)
	assert.Equal(t, []string{"read", "write"}, first.Scope)

	second, err := f.dispatch(t, refreshRequest("app", "app-secret", first.RefreshToken.Value))
	require.NoError(t, err)
	require.NotNil(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken.Value, second.RefreshToken.Value)
	assert.Equal(t, first.RefreshToken.ChainID, second.RefreshToken.ChainID)
	assert.Equal(t, []string{"read", "write"}, second.Scope)

	_, err = f.dispatch(t, refreshRequest("app", "app-secret", first.RefreshToken.Value))
	requireKind(t, err, errors.KindInvalidGrant)

	third, err := f.dispatch(t, refreshRequest("app", "app-secret", second.RefreshToken.Value))
	require.NoError(t, err)
	assert.Equal(t, first.RefreshToken.ChainID, third.RefreshToken.ChainID)
}

func TestDispatch_RefreshScope(t *testing.T) {
	f := newFixture(t)

	issued, err := f.dispatch(t, passwordRequest("app", "app-secret", "bob"))
	require.NoError(t, err)
	value := issued.RefreshToken.Value

	t.Run("widening fails and keeps the token", func(t *testing.T) {
		_, err := f.dispatch(t, refreshRequest("app", "app-secret", value, "read", "admin"))
		requireKind(t, err, errors.KindInvalidScope)

		stored, err := f.tokens.FindRefreshToken(t.Context(), HashToken(value))
		require.NoError(t, err)
		assert.False(t, stored.Redeemed)
	})

	t.Run("narrowing limits only the access token", func(t *testing.T) {
		res, err := f.dispatch(t, refreshRequest("app", "app-secret", value, "read"))
		require.NoError(t, err)

		assert.Equal(t, []string{"read"}, res.Scope)
		assert.Equal(t, []string{"read"}, res.Claims.Scope)
		assert.Equal(t, []string{"read", "write"}, res.RefreshToken.Scope)
	})
}

func TestDispatch_RefreshFailures(t *testing.T) {
	f := newFixture(t)

	issued, err := f.dispatch(t, passwordRequest("client", "secret", "john"))
	require.NoError(t, err)
	value := issued.RefreshToken.Value

	_, err = f.dispatch(t, refreshRequest("client", "secret", ""))
	requireKind(t, err, errors.KindInvalidRequest)

	_, err = f.dispatch(t, refreshRequest("client", "secret", "unknown-token"))
	requireKind(t, err, errors.KindInvalidGrant)

	// Presented by another client: rejected, and the owner can still use it.
	_, err = f.dispatch(t, refreshRequest("app", "app-secret", value))
	requireKind(t, err, errors.KindInvalidGrant)

	_, err = f.dispatch(t, refreshRequest("client", "secret", value))
	require.NoError(t, err)
}

func TestDispatch_RefreshExpired(t *testing.T) {
	f := newFixture(t)

	issued, err := f.dispatch(t, passwordRequest("client", "secret", "john"))
	require.NoError(t, err)

	f.clock.Advance(DefaultRefreshTokenTTL + time.Second)

	_, err = f.dispatch(t, refreshRequest("client", "secret", issued.RefreshToken.Value))
	requireKind(t, err, errors.KindInvalidGrant)
}

func TestDispatch_RefreshForDeletedUser(t *testing.T) {
	f := newFixture(t)

	issued, err := f.dispatch(t, passwordRequest("client", "secret", "john"))
	require.NoError(t, err)

	f.users.Delete("john")

	_, err = f.dispatch(t, refreshRequest("client", "secret", issued.RefreshToken.Value))
	requireKind(t, err, errors.KindInvalidGrant)
}

func TestDispatch_ConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newFixture(t)

	issued, err := f.dispatch(t, passwordRequest("client", "secret", "john"))
	require.NoError(t, err)

	const racers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	start := make(chan struct{})

	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			if _, err := f.dispatch(t, refreshRequest("client", "secret", issued.RefreshToken.Value)); err == nil {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestNewAuthServer_MissingDependencies(t *testing.T) {
	full := func() Dependencies {
		f := newFixture(t)
		v := f.server.Validator

		return Dependencies{
			Clients:       v.clients,
			Users:         v.users,
			Hasher:        v.hasher,
			AuthCodes:     f.codes,
			RefreshTokens: f.tokens,
			KeyPair:       testKeys(),
		}
	}

	tests := []struct {
		name  string
		strip func(*Dependencies)
	}{
		{"clients", func(d *Dependencies) { d.Clients = nil }},
		{"users", func(d *Dependencies) { d.Users = nil }},
		{"hasher", func(d *Dependencies) { d.Hasher = nil }},
		{"auth codes", func(d *Dependencies) { d.AuthCodes = nil }},
		{"refresh tokens", func(d *Dependencies) { d.RefreshTokens = nil }},
		{"keypair", func(d *Dependencies) { d.KeyPair = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full()
			tt.strip(&deps)

			_, err := NewAuthServer(deps)
			assert.ErrorIs(t, err, ErrMissingDependency)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		s, err := NewAuthServer(full())
		require.NoError(t, err)

		assert.Equal(t, DefaultAccessTokenTTL, s.Options.AccessTokenTTL)
		assert.Equal(t, DefaultRefreshTokenTTL, s.Options.RefreshTokenTTL)
		assert.Equal(t, DefaultAuthCodeTTL, s.Options.AuthCodeTTL)
		assert.NotNil(t, s.Options.Now)
	})
}
