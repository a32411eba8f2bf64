// Command token mints a bearer token for the /send endpoint.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gdbrns/go-whatsapp-sender/pkg/auth"
	"github.com/gdbrns/go-whatsapp-sender/pkg/env"
)

var (
	client string
	ttl    time.Duration
	secret string
)

var rootCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a JWT for the sender API",
	Long: `Mint a signed JWT accepted by POST /send.

The signing secret defaults to API_JWT_SECRET from the environment or .env.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.Flags().StringVarP(&client, "client", "c", "default", "client name stored in the token")
	rootCmd.Flags().DurationVarP(&ttl, "ttl", "t", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	rootCmd.Flags().StringVar(&secret, "secret", "", "signing secret (overrides API_JWT_SECRET)")
}

func runToken(cmd *cobra.Command, args []string) error {
	key := secret
	if key == "" {
		key = env.GetEnvStringOrDefault("API_JWT_SECRET", "")
	}

	token, err := auth.GenerateToken(key, client, ttl)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
