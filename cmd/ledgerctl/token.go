package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/tallyledger/internal/auth"
)

func init() {
	var userID, email, secret string
	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or LEDGER_JWT_SECRET required")
			}
			token, err := auth.NewJWTManager(secret, ttl).Generate(userID, email)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	tokenCmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	tokenCmd.Flags().StringVarP(&email, "email", "e", "", "User email")
	tokenCmd.Flags().StringVar(&secret, "secret", os.Getenv("LEDGER_JWT_SECRET"), "Signing secret (default $LEDGER_JWT_SECRET)")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)
}
