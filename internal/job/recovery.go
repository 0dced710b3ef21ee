package job

import (
	"context"
	"fmt"
	"log/slog"
)

const interruptedByRestart = "interrupted by restart"

// holdAuditor is implemented by ledgers that can reconstruct a job's
// outstanding hold from the audit trail.
type holdAuditor interface {
	OutstandingHold(ctx context.Context, accountID, jobID string) (int, error)
}

// Recover re-admits projects left queued or processing by a previous run.
// Stale running jobs are marked failed, each project is reset to queued and
// enqueued oldest first. It returns the number of projects re-enqueued.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	projects, err := r.repo.ListProjectsByStatus(ctx, ProjectQueued, ProjectProcessing)
	if err != nil {
		return 0, fmt.Errorf("list interrupted projects: %w", err)
	}

	count := 0
	for _, p := range projects {
		logger := r.logger.With(
			slog.String("project_id", p.ID),
			slog.String("status", string(p.GetStatus())),
		)

		r.failStaleJobs(ctx, logger, p.ID)

		if err := p.Requeue(); err != nil {
			logger.Warn("cannot requeue project", slog.String("error", err.Error()))
			continue
		}
		if err := r.repo.SaveProject(ctx, p); err != nil {
			logger.Error("failed to requeue project", slog.String("error", err.Error()))
			continue
		}
		r.Enqueue(p.ID)
		count++
		logger.Info("re-queued interrupted project")
	}

	if count > 0 {
		r.logger.Info("recovery sweep finished", slog.Int("requeued", count))
	}
	return count, nil
}

func (r *Runner) failStaleJobs(ctx context.Context, logger *slog.Logger, projectID string) {
	jobs, err := r.repo.ListJobsByProject(ctx, projectID)
	if err != nil {
		logger.Warn("failed to list jobs for recovery", slog.String("error", err.Error()))
		return
	}
	for _, j := range jobs {
		if j.GetStatus() != StatusRunning {
			continue
		}
		if err := j.Fail(interruptedByRestart); err != nil {
			continue
		}
		if err := r.repo.SaveJob(ctx, j); err != nil {
			logger.Warn("failed to mark stale job failed",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
		r.releaseStaleHold(ctx, logger, j)
	}
}

// releaseStaleHold returns the hold an interrupted attempt never settled.
func (r *Runner) releaseStaleHold(ctx context.Context, logger *slog.Logger, j *Job) {
	auditor, ok := r.ledger.(holdAuditor)
	if !ok {
		return
	}
	held, err := auditor.OutstandingHold(ctx, j.AccountID, j.ID)
	if err != nil {
		logger.Warn("failed to read outstanding hold",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if held == 0 {
		return
	}
	if err := r.ledger.Release(ctx, j.AccountID, held, j.ID); err != nil {
		logger.Error("failed to release stale hold",
			slog.String("job_id", j.ID),
			slog.Int("seconds", held),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("released stale hold", slog.String("job_id", j.ID), slog.Int("seconds", held))
}
