package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wager-core/internal/config"
	"wager-core/internal/services"
)

func tokenCommand() *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user-id must be positive")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			jwtService, err := services.NewJWTService(cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			token, claims, err := jwtService.GenerateToken(userID)
			if err != nil {
				return err
			}
			commonRun().Debug("issued token", "user_id", userID, "session_id", claims.SessionID)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user to issue the token for")
	cmd.Flags().DurationVar(&ttl, "ttl", services.DefaultTokenTTL, "token lifetime")
	return cmd
}
