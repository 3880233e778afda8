// Package cmd implements the authserver command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilab-dev/shadow-auth/log"
)

const appName = "authserver"

var (
	cfgFile   string
	appLogger log.Logger
)

var rootCmd = &cobra.Command{
	Use:          appName,
	Short:        "OAuth2 authorization server",
	Long:         `authserver issues signed access tokens and rotating refresh tokens for the password, authorization_code and refresh_token grants.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if appLogger != nil {
			appLogger.Error(context.Background(), "Command failed", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./authserver.yaml, /etc/shadow-auth/ or $HOME/.shadow-auth/)")

	rootCmd.AddCommand(newServeCmd(), newHashSecretCmd(), newKeygenCmd())
}
