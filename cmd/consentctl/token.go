package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/consentdac/backend/internal/auth"
	"github.com/consentdac/backend/internal/users"
)

func tokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token <email>",
		Short: "Mint an API token carrying the user's current roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			u, err := users.NewRepository(e.pool).FindUserByEmail(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("find %s: %w", args[0], err)
			}
			jwtService := auth.NewJWTService(e.cfg.JWT.Secret, e.cfg.JWT.Issuer, e.cfg.JWT.ExpireHours)
			token, err := jwtService.Generate(*u)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
