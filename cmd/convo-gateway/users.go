// ABOUTME: users subcommand: operator account management against the configured store
// ABOUTME: activate/deactivate flip is_active for the account with the given email

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/convo-gateway/internal/account"
	"github.com/2389/convo-gateway/internal/apperr"
	"github.com/2389/convo-gateway/internal/auth"
	"github.com/2389/convo-gateway/internal/logging"
	"github.com/2389/convo-gateway/internal/store"
)

// NewUsersCmd creates the users subcommand group.
func NewUsersCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newSetActiveCmd(load, "activate", true))
	cmd.AddCommand(newSetActiveCmd(load, "deactivate", false))
	return cmd
}

func newSetActiveCmd(load configLoader, use string, active bool) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s the account with the given email", use),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}

			cfg, _, err := load()
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, version, cmd.ErrOrStderr())

			s, err := store.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer s.Close()

			tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), auth.WithIssuer(cfg.Auth.Issuer))
			if err != nil {
				return fmt.Errorf("creating token service: %w", err)
			}
			hasher, err := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
			if err != nil {
				return fmt.Errorf("creating password hasher: %w", err)
			}
			svc := account.NewService(s, hasher, tokens, account.WithLogger(logger))

			user, err := svc.SetActive(cmd.Context(), email, active)
			if apperr.Is(err, apperr.KindNotFound) {
				return fmt.Errorf("no user with email %s", email)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: is_active=%t\n", user.Email, user.IsActive)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}
