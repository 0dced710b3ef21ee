package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/eogum-api/internal/credit"
	"github.com/maauso/eogum-api/internal/job"
	"github.com/maauso/eogum-api/internal/sqlite"
)

var allProjectStatuses = []job.ProjectStatus{
	job.ProjectQueued,
	job.ProjectProcessing,
	job.ProjectCompleted,
	job.ProjectFailed,
}

// deferredQueue leaves retried projects queued in the database. The server
// admits them on its next startup sweep.
type deferredQueue struct{}

func (deferredQueue) Enqueue(string) {}

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	projectsCmd := &cobra.Command{
		Use:   "projects",
		Short: "Inspect and retry projects",
	}
	projectsCmd.AddCommand(newProjectsListCommand(ctx))
	projectsCmd.AddCommand(newProjectsRetryCommand(ctx))
	return projectsCmd
}

func newProjectsListCommand(ctx *commandContext) *cobra.Command {
	var accountID string
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects by account or status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(store *sqlite.Store, _ *slog.Logger) error {
				var projects []*job.Project
				if accountID != "" {
					projects, err = store.ListProjectsByAccount(cmd.Context(), accountID)
					projects = keepStatuses(projects, filter)
				} else {
					projects, err = store.ListProjectsByStatus(cmd.Context(), filter...)
				}
				if err != nil {
					return err
				}
				if len(projects) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{
						p.ID,
						p.AccountID,
						p.Name,
						renderStatus(p.GetStatus(), colorize),
						string(p.CutType),
						formatSeconds(p.SourceDurationSeconds),
						formatTimestamp(p.CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Account", "Name", "Status", "Cut", "Duration", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "Only show projects owned by this account")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show projects in these statuses (queued, processing, completed, failed)")
	return cmd
}

func newProjectsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <project-id>",
		Short: "Reset a failed project to queued",
		Long: "Reset a failed project to queued after checking its account can cover the source duration.\n" +
			"The running server picks the project up on its next restart.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(store *sqlite.Store, logger *slog.Logger) error {
				p, err := store.FindProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				svc := job.NewService(store, credit.NewLedger(store, logger), deferredQueue{}, logger)
				if _, err := svc.RetryProject(cmd.Context(), p.AccountID, p.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s queued for retry\n", p.ID)
				return nil
			})
		},
	}
}

func parseStatuses(values []string) ([]job.ProjectStatus, error) {
	if len(values) == 0 {
		return allProjectStatuses, nil
	}
	out := make([]job.ProjectStatus, 0, len(values))
	for _, v := range values {
		status := job.ProjectStatus(strings.ToLower(strings.TrimSpace(v)))
		switch status {
		case job.ProjectQueued, job.ProjectProcessing, job.ProjectCompleted, job.ProjectFailed:
			out = append(out, status)
		default:
			return nil, fmt.Errorf("unknown project status %q", v)
		}
	}
	return out, nil
}

func keepStatuses(projects []*job.Project, statuses []job.ProjectStatus) []*job.Project {
	kept := projects[:0]
	for _, p := range projects {
		for _, s := range statuses {
			if p.GetStatus() == s {
				kept = append(kept, p)
				break
			}
		}
	}
	return kept
}
