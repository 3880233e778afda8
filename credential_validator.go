package sauth

import (
	"context"
	stderrors "errors"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/errors"
)

// burner is implemented by hashers that can spend the time of a failed
// comparison for an unknown principal.
type burner interface {
	BurnCompare(candidate string)
}

// CredentialValidator authenticates clients and resource owners. It holds no
// state of its own.
type CredentialValidator struct {
	clients domain.ClientRegistry
	users   domain.UserStore
	hasher  domain.SecretHasher
}

func NewCredentialValidator(clients domain.ClientRegistry, users domain.UserStore, hasher domain.SecretHasher) *CredentialValidator {
	return &CredentialValidator{
		clients: clients,
		users:   users,
		hasher:  hasher,
	}
}

// ValidateClientCredentials authenticates a client regardless of grant type.
func (v *CredentialValidator) ValidateClientCredentials(ctx context.Context, clientID, secret string) (*domain.Client, error) {
	if clientID == "" {
		return nil, errors.NewInvalidClient("Client authentication failed")
	}

	client, err := v.clients.LookupClient(ctx, clientID)
	if err != nil {
		if stderrors.Is(err, domain.ErrClientNotFound) {
			v.burn(secret)
			return nil, errors.NewInvalidClient("Client authentication failed").WithCause(err)
		}

		return nil, errors.NewServerError("client lookup failed").WithCause(err)
	}

	if err := v.hasher.Verify(client.SecretHash, secret); err != nil {
		return nil, errors.NewInvalidClient("Client authentication failed").WithCause(err)
	}

	return client, nil
}

// AuthorizeGrant checks that an authenticated client may use grantType.
func (v *CredentialValidator) AuthorizeGrant(client *domain.Client, grantType string) error {
	if !client.AllowsGrant(grantType) {
		return errors.NewUnauthorizedGrantType(grantType)
	}

	return nil
}

// ValidateClient authenticates the client and checks it may use grantType.
func (v *CredentialValidator) ValidateClient(ctx context.Context, clientID, secret, grantType string) (*domain.Client, error) {
	client, err := v.ValidateClientCredentials(ctx, clientID, secret)
	if err != nil {
		return nil, err
	}

	if err := v.AuthorizeGrant(client, grantType); err != nil {
		return nil, err
	}

	return client, nil
}

// ValidateUser authenticates a resource owner against the user store.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (v *CredentialValidator) ValidateUser(ctx context.Context, username, password string) (*domain.User, error) {
	if username == "" {
		return nil, errors.NewInvalidUser()
	}

	user, err := v.users.LookupUser(ctx, username)
	if err != nil {
		if stderrors.Is(err, domain.ErrUserNotFound) {
			v.burn(password)
			return nil, errors.NewInvalidUser().WithCause(err)
		}

		return nil, errors.NewServerError("user lookup failed").WithCause(err)
	}

	if !v.users.VerifyPassword(user, password) {
		return nil, errors.NewInvalidUser()
	}

	return user, nil
}

func (v *CredentialValidator) burn(candidate string) {
	if b, ok := v.hasher.(burner); ok {
		b.BurnCompare(candidate)
	}
}

// ReloadUser re-resolves an owner named by an earlier grant. The owner must
// still exist for the grant to be extended.
func (v *CredentialValidator) ReloadUser(ctx context.Context, username string) (*domain.User, error) {
	user, err := v.users.LookupUser(ctx, username)
	if err != nil {
		if stderrors.Is(err, domain.ErrUserNotFound) {
			return nil, errors.NewInvalidGrant("User no longer exists").WithCause(err)
		}

		return nil, errors.NewServerError("user lookup failed").WithCause(err)
	}

	return user, nil
}
