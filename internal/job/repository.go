package job

import (
	"context"
	"errors"
)

// ErrReportNotFound is returned when a project has no saved edit report.
var ErrReportNotFound = errors.New("report not found")

// Repository defines the interface for project, job and report persistence.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// SaveProject inserts or replaces a project row.
	SaveProject(ctx context.Context, p *Project) error

	// FindProject retrieves a project by ID.
	// Returns ErrProjectNotFound if the project does not exist.
	FindProject(ctx context.Context, id string) (*Project, error)

	// ListProjectsByAccount returns an account's projects, newest first.
	ListProjectsByAccount(ctx context.Context, accountID string) ([]*Project, error)

	// ListProjectsByStatus returns projects in any of the statuses, oldest first.
	ListProjectsByStatus(ctx context.Context, statuses ...ProjectStatus) ([]*Project, error)

	// DeleteProject removes a project with its jobs and report.
	// Returns ErrProjectNotFound if the project does not exist.
	DeleteProject(ctx context.Context, id string) error

	// SaveJob inserts or replaces a job row.
	SaveJob(ctx context.Context, j *Job) error

	// FindJob retrieves a job by ID.
	// Returns ErrJobNotFound if the job does not exist.
	FindJob(ctx context.Context, id string) (*Job, error)

	// ListJobsByProject returns a project's jobs, oldest first.
	ListJobsByProject(ctx context.Context, projectID string) ([]*Job, error)

	// LatestCompletedJob returns the most recent completed job of a project.
	// Returns ErrJobNotFound if none exists.
	LatestCompletedJob(ctx context.Context, projectID string) (*Job, error)

	// SaveReport inserts or replaces the project's edit report.
	SaveReport(ctx context.Context, r *Report) error

	// FindReport returns the project's edit report.
	// Returns ErrReportNotFound if none exists.
	FindReport(ctx context.Context, projectID string) (*Report, error)
}
