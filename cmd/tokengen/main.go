// Command tokengen mints a bearer token accepted by the collaboration
// server's upgrade endpoint, for local testing and operator use.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ruvnet/collabsync/internal/auth"
	"github.com/ruvnet/collabsync/internal/config"
)

var (
	userID   string
	username string
	ttl      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "tokengen",
	Short: "Mint a JWT accepted by the collabsync upgrade endpoint",
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a token for the given user_id and username",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user-id is required")
		}
		cfg := config.Load()
		v := auth.NewVerifier(cfg.JWT.Secret)
		token, err := v.Sign(userID, username, ttl)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&userID, "user-id", "", "document owner's user id (uuid)")
	signCmd.Flags().StringVar(&username, "username", "", "display name carried in the token claims")
	signCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(signCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
