package sauth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/auth"
	"github.com/pilab-dev/shadow-auth/internal/crypto"
	"github.com/pilab-dev/shadow-auth/storage/memory"
)

const testIssuer = "http://auth.test"

var testKeys = sync.OnceValue(func() *crypto.KeyPair {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err)
	}

	return kp
})

// clock is a settable time source shared by the engine under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fixture struct {
	server *AuthServer
	users  *memory.UserStore
	codes  *memory.AuthCodeStore
	tokens *memory.RefreshTokenStore
	clock  *clock
}

func (f *fixture) dispatch(t *testing.T, req *TokenRequest) (*TokenResult, error) {
	t.Helper()

	return f.server.Dispatcher.Dispatch(t.Context(), req)
}

func (f *fixture) authorize(t *testing.T, req *AuthorizeRequest) (*AuthorizeResult, error) {
	t.Helper()

	return f.server.Dispatcher.Authorize(t.Context(), req)
}

// newFixture builds an engine over in-memory stores with three clients:
//
//	client     all grants, scope read, one redirect URI, auto-approved
//	app        all grants, scope read+write, two redirect URIs, needs approval
//	legacy     password only, scope read
//
// and the users john [read] and bob [read write], both with password 12345.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	hash := func(s string) string {
		h, err := hasher.Hash(s)
		require.NoError(t, err)

		return h
	}

	allGrants := []string{
		domain.GrantTypeAuthorizationCode,
		domain.GrantTypePassword,
		domain.GrantTypeRefreshToken,
	}

	clients := memory.NewClientRegistry(
		&domain.Client{
			ID:                "client",
			SecretHash:        hash("secret"),
			AllowedGrantTypes: allGrants,
			Scopes:            []string{"read"},
			RedirectURIs:      []string{"http://localhost:7000/home"},
			AutoApprove:       true,
		},
		&domain.Client{
			ID:                "app",
			SecretHash:        hash("app-secret"),
			AllowedGrantTypes: allGrants,
			Scopes:            []string{"read", "write"},
			RedirectURIs:      []string{"https://app.test/cb", "https://app.test/alt?tenant=1"},
		},
		&domain.Client{
			ID:                "legacy",
			SecretHash:        hash("legacy-secret"),
			AllowedGrantTypes: []string{domain.GrantTypePassword},
			Scopes:            []string{"read"},
		},
	)

	users := memory.NewUserStore(hasher,
		&domain.User{Username: "john", PasswordHash: hash("12345"), Authorities: []string{"read"}},
		&domain.User{Username: "bob", PasswordHash: hash("12345"), Authorities: []string{"read", "write"}},
	)

	codes := memory.NewAuthCodeStore()
	tokens := memory.NewRefreshTokenStore()
	t.Cleanup(func() {
		_ = codes.Close()
		_ = tokens.Close()
	})

	clk := newClock()

	server, err := NewAuthServer(Dependencies{
		Clients:       clients,
		Users:         users,
		Hasher:        hasher,
		AuthCodes:     codes,
		RefreshTokens: tokens,
		KeyPair:       testKeys(),
		Options: Options{
			Issuer: testIssuer,
			Now:    clk.Now,
		},
	})
	require.NoError(t, err)

	return &fixture{
		server: server,
		users:  users,
		codes:  codes,
		tokens: tokens,
		clock:  clk,
	}
}
