package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.Migrate(cmd.Context(), a.db, a.dbCfg.Dialect(), a.sugar.Named("goose"))
		},
	}
}

func registerCmd(a *app) *cobra.Command {
	var userName, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account and send its activation email",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc := entity.New()
			acc.UserName = userName
			acc.Email = email
			acc.PlainPassword = password
			out, err := a.service.Register(cmd.Context(), acc)
			if err != nil {
				var dup *account.DuplicateKeyError
				if errors.As(err, &dup) {
					return fmt.Errorf("%s already taken: %s", dup.Key, dup.Value)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered account %d (activation email delivered: %t)\n", out.AccountID, out.EmailDelivered)
			return nil
		},
	}
	cmd.Flags().StringVar(&userName, "user", "", "user name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "plaintext password")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func activateCmd(a *app) *cobra.Command {
	var email, token string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate an account with its activation token",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.service.Activate(cmd.Context(), email, token)
			var expired *account.ActivationExpiredError
			if errors.As(err, &expired) && expired.Resent {
				fmt.Fprintln(cmd.OutOrStdout(), "token expired, a new activation email was sent")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "account activated")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&token, "token", "", "activation token")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func resendActivationCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "resend-activation",
		Short: "Issue and send a new activation token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.service.ResendActivation(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "activation email sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func requestResetCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "request-reset",
		Short: "Send a password reset token to an active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.service.InitiatePasswordReset(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password reset email sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func completeResetCmd(a *app) *cobra.Command {
	var email, token, password string
	cmd := &cobra.Command{
		Use:   "complete-reset",
		Short: "Set a new password using a reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.service.CompletePasswordReset(cmd.Context(), email, token, password)
			if errors.Is(err, account.ErrTokenExpired) {
				return errors.New("reset token expired, request a new one")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&token, "token", "", "reset token")
	cmd.Flags().StringVar(&password, "password", "", "new plaintext password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func expireResetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-resets",
		Short: "Clear every expired password reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.service.ExpirePasswordResets(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d expired reset tokens\n", n)
			return nil
		},
	}
}

func lookupCmd(a *app) *cobra.Command {
	var emails []string
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Show the accounts registered with the given emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := a.service.LookupAccounts(cmd.Context(), emails)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(found))
			for k := range found {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				acc := found[k]
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tactive=%t\troles=%v\n", acc.ID, acc.UserName, acc.Email, acc.IsActive, acc.Roles)
			}
			for _, e := range emails {
				if _, ok := found[e]; !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "-\t-\t%s\tnot found\n", e)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&emails, "email", nil, "email address (repeatable)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func settingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "List effective settings, stored values first then env defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := a.settings.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, st := range all {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", st.Name, st.Value)
			}
			return nil
		},
	}
}
