package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var dbFlag string

	ctx := newCommandContext(&dbFlag)

	rootCmd := &cobra.Command{
		Use:           "eogumctl",
		Short:         "Administer eogum accounts, credits and projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path (default DATA_DIR/eogum.db)")

	rootCmd.AddCommand(newAccountsCommand(ctx))
	rootCmd.AddCommand(newCreditsCommand(ctx))
	rootCmd.AddCommand(newProjectsCommand(ctx))

	return rootCmd
}
