package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/shadow-auth/internal/auth"
	"github.com/pilab-dev/shadow-auth/internal/crypto"
)

// newHashSecretCmd hashes a client secret or password for seed files.
// Without an argument the secret is read from the first line of stdin.
func newHashSecretCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of a client secret or password",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			if secret == "" {
				return errors.New("secret must not be empty")
			}

			hash, err := auth.NewBcryptHasher(cost).Hash(secret)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)

			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 uses the default)")

	return cmd
}

// newKeygenCmd writes a fresh RSA signing key as PKCS#8 PEM.
func newKeygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}

			pemBytes, err := crypto.EncodePrivateKeyPEM(kp.PrivateKey)
			if err != nil {
				return err
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(pemBytes)
				return err
			}

			if err := os.WriteFile(out, pemBytes, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote key %s to %s\n", kp.KeyID, out)

			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the key to this file instead of stdout")

	return cmd
}
