package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maauso/eogum-api/internal/credit"
	"github.com/maauso/eogum-api/internal/sqlite"
)

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	creditsCmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and top up credit balances (seconds of video)",
	}
	creditsCmd.AddCommand(newCreditsGrantCommand(ctx))
	creditsCmd.AddCommand(newCreditsBalanceCommand(ctx))
	creditsCmd.AddCommand(newCreditsHistoryCommand(ctx))
	return creditsCmd
}

func newCreditsGrantCommand(ctx *commandContext) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "grant <account-id> <seconds>",
		Short: "Add seconds to an account balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := args[0]
			seconds, err := strconv.Atoi(args[1])
			if err != nil || seconds <= 0 {
				return fmt.Errorf("seconds must be a positive integer, got %q", args[1])
			}
			return ctx.withStore(cmd, func(store *sqlite.Store, logger *slog.Logger) error {
				ledger := credit.NewLedger(store, logger)
				if err := ledger.Grant(cmd.Context(), accountID, seconds, description); err != nil {
					return err
				}
				bal, err := ledger.Balance(cmd.Context(), accountID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to %s (balance %s, available %s)\n",
					formatSeconds(seconds), accountID, formatSeconds(bal.Balance), formatSeconds(bal.Available))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description recorded on the grant transaction")
	return cmd
}

func newCreditsBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show balance, held and available seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(store *sqlite.Store, logger *slog.Logger) error {
				bal, err := credit.NewLedger(store, logger).Balance(cmd.Context(), args[0])
				if errors.Is(err, credit.ErrAccountNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "No credit record for %s\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Balance:   %s\n", formatSeconds(bal.Balance))
				fmt.Fprintf(out, "Held:      %s\n", formatSeconds(bal.Held))
				fmt.Fprintf(out, "Available: %s\n", formatSeconds(bal.Available))
				return nil
			})
		},
	}
}

func newCreditsHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history <account-id>",
		Short: "List credit transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}
			if offset < 0 {
				return fmt.Errorf("--offset must not be negative")
			}
			return ctx.withStore(cmd, func(store *sqlite.Store, logger *slog.Logger) error {
				txs, err := credit.NewLedger(store, logger).Transactions(cmd.Context(), args[0], limit, offset)
				if errors.Is(err, credit.ErrAccountNotFound) {
					txs, err = nil, nil
				}
				if err != nil {
					return err
				}
				if len(txs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No transactions")
					return nil
				}
				rows := make([][]string, 0, len(txs))
				for _, tx := range txs {
					rows = append(rows, []string{
						formatTimestamp(tx.CreatedAt),
						string(tx.Kind),
						strconv.Itoa(tx.AmountSeconds),
						tx.JobID,
						tx.Description,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Time", "Type", "Seconds", "Job", "Description"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of transactions to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of newest transactions to skip")
	return cmd
}
