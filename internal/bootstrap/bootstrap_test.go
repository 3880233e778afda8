package bootstrap_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/pilab-dev/shadow-auth/config"
	"github.com/pilab-dev/shadow-auth/internal/bootstrap"
	"github.com/pilab-dev/shadow-auth/verifier"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		HTTPAddr:        "127.0.0.1:0",
		Issuer:          "http://auth.test",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		AuthCodeTTL:     time.Minute,
		GCInterval:      time.Minute,
		Storage: config.StorageConfig{
			Backend: config.StorageBolt,
			Bolt:    config.BoltConfig{Path: filepath.Join(t.TempDir(), "grants.db")},
		},
		Registry: config.RegistryConfig{Backend: config.RegistrySeed},
		Keys:     config.KeysConfig{Source: config.KeySourceGenerate},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
}

func TestBuild_EndToEnd(t *testing.T) {
	cfg := testConfig(t)

	app, err := bootstrap.Build(t.Context(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)

	client := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			TokenURL:  srv.URL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	tok, err := client.PasswordCredentialsToken(t.Context(), "john", "12345")
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.NotEmpty(t, tok.RefreshToken)

	v, err := verifier.NewRemoteVerifier(t.Context(), srv.URL+"/.well-known/jwks.json", verifier.Options{Issuer: cfg.Issuer})
	require.NoError(t, err)
	t.Cleanup(v.Close)

	claims, err := v.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "john", claims.Username)
	assert.Equal(t, "client", claims.ClientID)
	assert.Equal(t, []string{"read"}, claims.Scope)

	refreshed, err := client.TokenSource(t.Context(), &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	require.NoError(t, err)
	assert.NotEqual(t, tok.RefreshToken, refreshed.RefreshToken)

	_, err = v.Verify(refreshed.AccessToken)
	require.NoError(t, err)

	// The rotated-out refresh token is gone for good.
	_, err = client.TokenSource(t.Context(), &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	var re *oauth2.RetrieveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "invalid_grant", re.ErrorCode)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sauth_tokens_issued_total{grant_type="password"} 1`)
	assert.Contains(t, string(body), "sauth_refresh_rotations_total 1")

	codes, tokens, err := app.Janitor.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, codes)
	assert.Zero(t, tokens)
}

func TestBuild_SeedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageMemory
	cfg.Registry.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := bootstrap.Build(t.Context(), cfg, nil)
	require.Error(t, err)
}

func TestBuild_KeyFileMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Keys = config.KeysConfig{Source: config.KeySourceFile, PrivateKeyPath: filepath.Join(t.TempDir(), "nope.pem")}

	_, err := bootstrap.Build(t.Context(), cfg, nil)
	require.Error(t, err)
}

func TestApp_RunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageMemory
	cfg.Metrics.Enabled = false

	app, err := bootstrap.Build(t.Context(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx, func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 5*time.Second)
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
