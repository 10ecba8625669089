package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/internal/roles"
	"github.com/consentdac/backend/internal/users"
)

// parseRoles turns "Member,dataowner" into a role set.
func parseRoles(s string) (models.RoleSet, error) {
	var set models.RoleSet
	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		r, err := models.ParseRole(name)
		if err != nil {
			return models.RoleSet{}, err
		}
		set.Add(r)
	}
	return set, nil
}

func delegateRef(email string) *models.User {
	if email == "" {
		return nil
	}
	return &models.User{Email: email}
}

func rolesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and change DAC user roles",
	}
	cmd.AddCommand(rolesShowCommand(), rolesUpdateCommand())
	return cmd
}

func rolesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <email>",
		Short: "Print a user and their roles as JSON",
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
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(u)
		},
	}
}

func rolesUpdateCommand() *cobra.Command {
	var (
		desired           string
		delegateMember    string
		delegateDataOwner string
	)
	cmd := &cobra.Command{
		Use:   "update <email>",
		Short: "Move a user to exactly the given roles, delegating open votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := parseRoles(desired)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			u, err := users.NewRepository(e.pool).FindUserByEmail(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("find %s: %w", args[0], err)
			}
			before := u.Roles
			u.Roles = set
			err = e.roleService().UpdateRoles(cmd.Context(), roles.UpdateRequest{
				UpdatedUser:       *u,
				DelegateMember:    delegateRef(delegateMember),
				DelegateDataOwner: delegateRef(delegateDataOwner),
			})
			if err != nil {
				return err
			}
			diff := roles.ComputeDiff(before, set)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %v, added %v\n",
				u.Email, diff.Remove.Names(), diff.Add.Names())
			return nil
		},
	}
	cmd.Flags().StringVar(&desired, "roles", "", "comma-separated desired roles, e.g. Alumni,DataOwner")
	cmd.Flags().StringVar(&delegateMember, "delegate-member", "", "email of the user taking over Chairperson or Member votes")
	cmd.Flags().StringVar(&delegateDataOwner, "delegate-dataowner", "", "email of the user taking over DataOwner votes")
	_ = cmd.MarkFlagRequired("roles")
	return cmd
}
