package sauth

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
)

type MockClientRegistry struct {
	mock.Mock
}

func (m *MockClientRegistry) LookupClient(ctx context.Context, clientID string) (*domain.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.Client), args.Error(1)
}

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) LookupUser(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserStore) VerifyPassword(user *domain.User, candidate string) bool {
	return m.Called(user, candidate).Bool(0)
}

type MockHasher struct {
	mock.Mock
}

func (m *MockHasher) Hash(secret string) (string, error) {
	args := m.Called(secret)
	return args.String(0), args.Error(1)
}

func (m *MockHasher) Verify(hash, candidate string) error {
	return m.Called(hash, candidate).Error(0)
}

func (m *MockHasher) BurnCompare(candidate string) {
	m.Called(candidate)
}

var errBackend = stderrors.New("backend unavailable")

func TestCredentialValidator_ValidateClientCredentials(t *testing.T) {
	registered := &domain.Client{
		ID:                "client",
		SecretHash:        "hash",
		AllowedGrantTypes: []string{domain.GrantTypePassword},
	}

	t.Run("valid secret", func(t *testing.T) {
		clients, hasher := new(MockClientRegistry), new(MockHasher)
		clients.On("LookupClient", mock.Anything, "client").Return(registered, nil)
		hasher.On("Verify", "hash", "secret").Return(nil)

		v := NewCredentialValidator(clients, new(MockUserStore), hasher)
		got, err := v.ValidateClientCredentials(t.Context(), "client", "secret")

		require.NoError(t, err)
		assert.Same(t, registered, got)
		hasher.AssertExpectations(t)
	})

	t.Run("wrong secret", func(t *testing.T) {
		clients, hasher := new(MockClientRegistry), new(MockHasher)
		clients.On("LookupClient", mock.Anything, "client").Return(registered, nil)
		hasher.On("Verify", "hash", "nope").Return(stderrors.New("mismatch"))

		v := NewCredentialValidator(clients, new(MockUserStore), hasher)
		_, err := v.ValidateClientCredentials(t.Context(), "client", "nope")

		assert.Equal(t, errors.KindInvalidClient, errors.KindOf(err))
	})

	t.Run("unknown client burns a comparison", func(t *testing.T) {
		clients, hasher := new(MockClientRegistry), new(MockHasher)
		clients.On("LookupClient", mock.Anything, "ghost").Return(nil, domain.ErrClientNotFound)
		hasher.On("BurnCompare", "secret").Return()

		v := NewCredentialValidator(clients, new(MockUserStore), hasher)
		_, err := v.ValidateClientCredentials(t.Context(), "ghost", "secret")

		assert.Equal(t, errors.KindInvalidClient, errors.KindOf(err))
		hasher.AssertCalled(t, "BurnCompare", "secret")
	})

	t.Run("empty client id", func(t *testing.T) {
		v := NewCredentialValidator(new(MockClientRegistry), new(MockUserStore), new(MockHasher))
		_, err := v.ValidateClientCredentials(t.Context(), "", "secret")

		assert.Equal(t, errors.KindInvalidClient, errors.KindOf(err))
	})

	t.Run("registry failure is a server error", func(t *testing.T) {
		clients := new(MockClientRegistry)
		clients.On("LookupClient", mock.Anything, "client").Return(nil, errBackend)

		v := NewCredentialValidator(clients, new(MockUserStore), new(MockHasher))
		_, err := v.ValidateClientCredentials(t.Context(), "client", "secret")

		assert.Equal(t, errors.KindServerError, errors.KindOf(err))
		assert.ErrorIs(t, err, errBackend)
	})
}

func TestCredentialValidator_ValidateClient(t *testing.T) {
	clients, hasher := new(MockClientRegistry), new(MockHasher)
	clients.On("LookupClient", mock.Anything, "client").Return(&domain.Client{
		ID:                "client",
		SecretHash:        "hash",
		AllowedGrantTypes: []string{domain.GrantTypePassword},
	}, nil)
	hasher.On("Verify", "hash", "secret").Return(nil)

	v := NewCredentialValidator(clients, new(MockUserStore), hasher)

	_, err := v.ValidateClient(t.Context(), "client", "secret", domain.GrantTypePassword)
	require.NoError(t, err)

	_, err = v.ValidateClient(t.Context(), "client", "secret", domain.GrantTypeRefreshToken)
	require.Error(t, err)
	assert.Equal(t, errors.KindUnauthorizedGrantType, errors.KindOf(err))
	assert.Equal(t, "unauthorized_client", errors.As(err).Code)
}

func TestCredentialValidator_ValidateUser(t *testing.T) {
	john := &domain.User{Username: "john", PasswordHash: "hash", Authorities: []string{"read"}}

	t.Run("valid password", func(t *testing.T) {
		users := new(MockUserStore)
		users.On("LookupUser", mock.Anything, "john").Return(john, nil)
		users.On("VerifyPassword", john, "12345").Return(true)

		v := NewCredentialValidator(new(MockClientRegistry), users, new(MockHasher))
		got, err := v.ValidateUser(t.Context(), "john", "12345")

		require.NoError(t, err)
		assert.Equal(t, "john", got.Username)
	})

	t.Run("wrong password and unknown user look the same", func(t *testing.T) {
		users, hasher := new(MockUserStore), new(MockHasher)
		users.On("LookupUser", mock.Anything, "john").Return(john, nil)
		users.On("VerifyPassword", john, "bad").Return(false)
		users.On("LookupUser", mock.Anything, "ghost").Return(nil, domain.ErrUserNotFound)
		hasher.On("BurnCompare", "bad").Return()

		v := NewCredentialValidator(new(MockClientRegistry), users, hasher)

		_, wrongPassword := v.ValidateUser(t.Context(), "john", "bad")
		_, unknownUser := v.ValidateUser(t.Context(), "ghost", "bad")

		for _, err := range []error{wrongPassword, unknownUser} {
			oe := errors.As(err)
			assert.Equal(t, errors.KindInvalidUser, oe.Kind)
			assert.Equal(t, "invalid_grant", oe.Code)
			assert.Equal(t, "Bad credentials", oe.Description)
		}
	})

	t.Run("store failure is a server error", func(t *testing.T) {
		users := new(MockUserStore)
		users.On("LookupUser", mock.Anything, "john").Return(nil, errBackend)

		v := NewCredentialValidator(new(MockClientRegistry), users, new(MockHasher))
		_, err := v.ValidateUser(t.Context(), "john", "12345")

		assert.Equal(t, errors.KindServerError, errors.KindOf(err))
	})
}

func TestCredentialValidator_ReloadUser(t *testing.T) {
	users := new(MockUserStore)
	users.On("LookupUser", mock.Anything, "john").Return(&domain.User{Username: "john"}, nil)
	users.On("LookupUser", mock.Anything, "gone").Return(nil, domain.ErrUserNotFound)

	v := NewCredentialValidator(new(MockClientRegistry), users, new(MockHasher))

	u, err := v.ReloadUser(t.Context(), "john")
	require.NoError(t, err)
	assert.Equal(t, "john", u.Username)

	_, err = v.ReloadUser(t.Context(), "gone")
	assert.Equal(t, errors.KindInvalidGrant, errors.KindOf(err))
}
