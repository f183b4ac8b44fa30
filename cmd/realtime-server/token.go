package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/desain-gratis/realtime/usecase/session"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a development access token",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String("user", "", "user id (token subject)")
	tokenCmd.Flags().String("locale", "", "locale claim")
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	locale, _ := cmd.Flags().GetString("locale")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	if cfg.Principal.Secret == "" {
		return fmt.Errorf("principal.secret is not configured")
	}

	keys, err := newKeys(cfg.Principal)
	if err != nil {
		return err
	}

	auth := session.NewTokenAuthenticator(keys, nil, cfg.Principal.KeyID)
	token, err := auth.Sign(cmd.Context(), userID, locale, ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
