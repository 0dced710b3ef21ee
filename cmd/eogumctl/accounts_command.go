package main

import (
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/spf13/cobra"

	"github.com/maauso/eogum-api/internal/sqlite"
)

func newAccountsCommand(ctx *commandContext) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts and their notification addresses",
	}

	accountsCmd.AddCommand(&cobra.Command{
		Use:   "add <account-id> <email>",
		Short: "Register an account or update its email",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, email := args[0], args[1]
			if _, err := mail.ParseAddress(email); err != nil {
				return fmt.Errorf("invalid email %q: %w", email, err)
			}
			return ctx.withStore(cmd, func(store *sqlite.Store, logger *slog.Logger) error {
				if err := store.AddAccount(cmd.Context(), accountID, email); err != nil {
					return err
				}
				logger.Info("account saved", slog.String("account_id", accountID))
				fmt.Fprintf(cmd.OutOrStdout(), "Account %s saved (%s)\n", accountID, email)
				return nil
			})
		},
	})

	accountsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(store *sqlite.Store, _ *slog.Logger) error {
				accounts, err := store.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				if len(accounts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No accounts")
					return nil
				}
				rows := make([][]string, 0, len(accounts))
				for _, a := range accounts {
					rows = append(rows, []string{a.ID, a.Email, formatTimestamp(a.CreatedAt)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Email", "Created"}, rows, nil))
				return nil
			})
		},
	})

	return accountsCmd
}
