package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/eogum-api/internal/job"
)

// Compile-time check that Store implements job.Repository.
var _ job.Repository = (*Store)(nil)

const projectColumns = "id, account_id, name, cut_type, language, source_key, source_filename, source_size_bytes, source_duration_seconds, status, settings_json, created_at, updated_at"

const jobColumns = "id, project_id, account_id, type, status, progress, error_message, result_keys_json, created_at, started_at, completed_at"

// SaveProject inserts or updates a project row. An upsert keeps the row
// identity so jobs and the report are not cascaded away.
func (s *Store) SaveProject(ctx context.Context, p *job.Project) error {
	snap := p.Clone()
	settings, err := json.Marshal(snap.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET
             account_id = excluded.account_id,
             name = excluded.name,
             cut_type = excluded.cut_type,
             language = excluded.language,
             source_key = excluded.source_key,
             source_filename = excluded.source_filename,
             source_size_bytes = excluded.source_size_bytes,
             source_duration_seconds = excluded.source_duration_seconds,
             status = excluded.status,
             settings_json = excluded.settings_json,
             updated_at = excluded.updated_at`,
		snap.ID,
		snap.AccountID,
		snap.Name,
		string(snap.CutType),
		snap.Language,
		snap.SourceKey,
		nullableString(snap.SourceFilename),
		snap.SourceSizeBytes,
		snap.SourceDurationSeconds,
		string(snap.Status),
		string(settings),
		formatTime(snap.CreatedAt),
		formatTime(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// FindProject retrieves a project by ID.
func (s *Store) FindProject(ctx context.Context, id string) (*job.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	return p, nil
}

// ListProjectsByAccount returns an account's projects, newest first.
func (s *Store) ListProjectsByAccount(ctx context.Context, accountID string) ([]*job.Project, error) {
	return s.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE account_id = ? ORDER BY created_at DESC, rowid DESC`,
		accountID,
	)
}

// ListProjectsByStatus returns projects in any of the statuses, oldest first.
func (s *Store) ListProjectsByStatus(ctx context.Context, statuses ...job.ProjectStatus) ([]*job.Project, error) {
	if len(statuses) == 0 {
		return []*job.Project{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE status IN (`+placeholders+`) ORDER BY created_at, rowid`,
		args...,
	)
}

// DeleteProject removes a project; jobs and the report cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	n, err := s.execAffected(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n == 0 {
		return job.ErrProjectNotFound
	}
	return nil
}

// SaveJob inserts or updates a job row.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	snap := j.Clone()
	keys, err := json.Marshal(snap.ResultKeys)
	if err != nil {
		return fmt.Errorf("marshal result keys: %w", err)
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET
             status = excluded.status,
             progress = excluded.progress,
             error_message = excluded.error_message,
             result_keys_json = excluded.result_keys_json,
             started_at = excluded.started_at,
             completed_at = excluded.completed_at`,
		snap.ID,
		snap.ProjectID,
		snap.AccountID,
		string(snap.Type),
		string(snap.Status),
		snap.Progress,
		nullableString(snap.ErrorMessage),
		string(keys),
		formatTime(snap.CreatedAt),
		nullableTime(snap.StartedAt),
		nullableTime(snap.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// FindJob retrieves a job by ID.
func (s *Store) FindJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return j, nil
}

// ListJobsByProject returns a project's jobs, oldest first.
func (s *Store) ListJobsByProject(ctx context.Context, projectID string) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? ORDER BY created_at, rowid`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// LatestCompletedJob returns the most recently completed job of a project.
func (s *Store) LatestCompletedJob(ctx context.Context, projectID string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? AND status = ?
         ORDER BY completed_at DESC, rowid DESC LIMIT 1`,
		projectID, string(job.StatusCompleted),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed job: %w", err)
	}
	return j, nil
}

// SaveReport inserts or replaces the project's edit report.
func (s *Store) SaveReport(ctx context.Context, r *job.Report) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO edit_reports (project_id, total_duration_seconds, cut_duration_seconds, cut_percentage, markdown, created_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (project_id) DO UPDATE SET
             total_duration_seconds = excluded.total_duration_seconds,
             cut_duration_seconds = excluded.cut_duration_seconds,
             cut_percentage = excluded.cut_percentage,
             markdown = excluded.markdown,
             created_at = excluded.created_at`,
		r.ProjectID,
		r.TotalDurationSeconds,
		r.CutDurationSeconds,
		r.CutPercentage,
		r.Markdown,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// FindReport returns the project's edit report.
func (s *Store) FindReport(ctx context.Context, projectID string) (*job.Report, error) {
	var (
		r       job.Report
		created sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, total_duration_seconds, cut_duration_seconds, cut_percentage, markdown, created_at
         FROM edit_reports WHERE project_id = ?`,
		projectID,
	).Scan(&r.ProjectID, &r.TotalDurationSeconds, &r.CutDurationSeconds, &r.CutPercentage, &r.Markdown, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find report: %w", err)
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func (s *Store) queryProjects(ctx context.Context, query string, args ...any) ([]*job.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	projects := make([]*job.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(row scanner) (*job.Project, error) {
	var (
		p          job.Project
		cutType    string
		filename   sql.NullString
		status     string
		settings   string
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := row.Scan(
		&p.ID,
		&p.AccountID,
		&p.Name,
		&cutType,
		&p.Language,
		&p.SourceKey,
		&filename,
		&p.SourceSizeBytes,
		&p.SourceDurationSeconds,
		&status,
		&settings,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	p.CutType = job.CutType(cutType)
	p.SourceFilename = filename.String
	p.Status = job.ProjectStatus(status)
	p.CreatedAt = parseTime(createdRaw)
	p.UpdatedAt = parseTime(updatedRaw)
	p.Settings = map[string]any{}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return &p, nil
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j            job.Job
		jobType      string
		status       string
		errorMessage sql.NullString
		keys         string
		createdRaw   sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := row.Scan(
		&j.ID,
		&j.ProjectID,
		&j.AccountID,
		&jobType,
		&status,
		&j.Progress,
		&errorMessage,
		&keys,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	j.Type = job.CutType(jobType)
	j.Status = job.Status(status)
	j.ErrorMessage = errorMessage.String
	j.CreatedAt = parseTime(createdRaw)
	j.StartedAt = parseTime(startedRaw)
	j.CompletedAt = parseTime(completedRaw)
	j.ResultKeys = map[string]string{}
	if keys != "" {
		if err := json.Unmarshal([]byte(keys), &j.ResultKeys); err != nil {
			return nil, fmt.Errorf("unmarshal result keys: %w", err)
		}
	}
	return &j, nil
}
