package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/consentdac/backend/internal/models"
)

func delegationCommand() *cobra.Command {
	var roleName string
	cmd := &cobra.Command{
		Use:   "delegation <email>",
		Short: "Check whether removing a role needs a delegate, and list candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := models.ParseRole(roleName)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			check, err := e.roleService().ValidateDelegation(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !check.NeedsDelegation {
				fmt.Fprintf(out, "%s can drop %s without a delegate\n", args[0], role)
				return nil
			}
			fmt.Fprintf(out, "%s holds open %s work; candidates:\n", args[0], role)
			for _, c := range check.Candidates {
				fmt.Fprintf(out, "  %d\t%s\t%s\n", c.ID, c.Email, c.DisplayName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&roleName, "role", "", "role to be removed: Chairperson, Member or DataOwner")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
