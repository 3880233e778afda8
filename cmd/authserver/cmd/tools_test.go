package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pilab-dev/shadow-auth/internal/crypto"
)

func TestHashSecret(t *testing.T) {
	t.Run("argument", func(t *testing.T) {
		cmd := newHashSecretCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--cost", "4", "secret"})

		require.NoError(t, cmd.Execute())
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out.String())), []byte("secret")))
	})

	t.Run("stdin", func(t *testing.T) {
		cmd := newHashSecretCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetIn(strings.NewReader("12345\n"))
		cmd.SetArgs([]string{"--cost", "4"})

		require.NoError(t, cmd.Execute())
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out.String())), []byte("12345")))
	})

	t.Run("empty", func(t *testing.T) {
		cmd := newHashSecretCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetIn(strings.NewReader("\n"))
		cmd.SetArgs([]string{})

		assert.Error(t, cmd.Execute())
	})
}

func TestKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")

	cmd := newKeygenCmd()
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-o", path})
	require.NoError(t, cmd.Execute())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	kp, err := crypto.LoadFromFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, kp.KeyID)
}
