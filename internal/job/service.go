package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/maauso/eogum-api/internal/credit"
)

var (
	// ErrInvalidProject is returned when a create request is incomplete.
	ErrInvalidProject = errors.New("invalid project")
	// ErrNotRetriable is returned when retrying a project that has not failed.
	ErrNotRetriable = errors.New("project is not retriable")
	// ErrProjectBusy is returned when deleting a project that is processing.
	ErrProjectBusy = errors.New("project is processing")
	// ErrArtifactNotFound is returned when no completed job produced the artifact.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// BalanceReader reports an account's credit position.
type BalanceReader interface {
	Balance(ctx context.Context, accountID string) (credit.Balance, error)
}

// Enqueuer admits a project to the runner queue.
type Enqueuer interface {
	Enqueue(projectID string)
}

// CreateProjectInput contains the fields of a new project request.
type CreateProjectInput struct {
	AccountID             string
	Name                  string
	CutType               CutType
	Language              string
	SourceKey             string
	SourceFilename        string
	SourceSizeBytes       int64
	SourceDurationSeconds int
	Settings              map[string]any
}

// DownloadSource requests the original upload instead of an artifact.
const DownloadSource ArtifactKind = "source"

// DownloadTarget is a stored object and the filename offered to the client.
type DownloadTarget struct {
	Key      string
	Filename string
}

// ProjectDetail is a project with its attempts and edit report.
type ProjectDetail struct {
	Project *Project
	Jobs    []*Job
	// Report is nil until a completed attempt produced one.
	Report *Report
}

// Service implements the project use cases behind the HTTP API.
type Service struct {
	repo    Repository
	credits BalanceReader
	queue   Enqueuer
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(repo Repository, credits BalanceReader, queue Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		credits: credits,
		queue:   queue,
		logger:  logger,
	}
}

// CreateProject checks the account can cover the source duration, saves a
// queued project and enqueues it. Nothing is persisted when credit is
// insufficient.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (*Project, error) {
	if !in.CutType.IsValid() {
		return nil, fmt.Errorf("%w: unknown cut type %q", ErrInvalidProject, in.CutType)
	}
	if in.SourceDurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: source duration must be positive", ErrInvalidProject)
	}
	if in.SourceKey == "" {
		return nil, fmt.Errorf("%w: source key is required", ErrInvalidProject)
	}

	if err := s.checkCredit(ctx, in.AccountID, in.SourceDurationSeconds); err != nil {
		return nil, err
	}

	p := NewProject(in.AccountID, in.Name, in.CutType)
	if in.Language != "" {
		p.Language = in.Language
	}
	p.SourceKey = in.SourceKey
	p.SourceFilename = in.SourceFilename
	p.SourceSizeBytes = in.SourceSizeBytes
	p.SourceDurationSeconds = in.SourceDurationSeconds
	for k, v := range in.Settings {
		p.Settings[k] = v
	}

	if err := s.repo.SaveProject(ctx, p); err != nil {
		s.logger.Error("failed to save project",
			slog.String("account_id", in.AccountID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save project: %w", err)
	}

	s.logger.Info("project created",
		slog.String("project_id", p.ID),
		slog.String("account_id", p.AccountID),
		slog.String("cut_type", string(p.CutType)),
		slog.Int("duration_seconds", p.SourceDurationSeconds),
	)
	s.queue.Enqueue(p.ID)
	return p, nil
}

// GetProject returns the project with its jobs and report. Projects of other
// accounts are reported as ErrProjectNotFound.
func (s *Service) GetProject(ctx context.Context, accountID, projectID string) (*ProjectDetail, error) {
	p, err := s.ownedProject(ctx, accountID, projectID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.repo.ListJobsByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	detail := &ProjectDetail{Project: p, Jobs: jobs}

	rep, err := s.repo.FindReport(ctx, projectID)
	switch {
	case err == nil:
		detail.Report = rep
	case !errors.Is(err, ErrReportNotFound):
		return nil, fmt.Errorf("find report: %w", err)
	}
	return detail, nil
}

// ListProjects returns the account's projects, newest first.
func (s *Service) ListProjects(ctx context.Context, accountID string) ([]*Project, error) {
	return s.repo.ListProjectsByAccount(ctx, accountID)
}

// RetryProject moves a failed project back to queued and enqueues it.
func (s *Service) RetryProject(ctx context.Context, accountID, projectID string) (*Project, error) {
	p, err := s.ownedProject(ctx, accountID, projectID)
	if err != nil {
		return nil, err
	}
	if p.GetStatus() != ProjectFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetriable, p.GetStatus())
	}
	if err := s.checkCredit(ctx, accountID, p.SourceDurationSeconds); err != nil {
		return nil, err
	}
	if err := p.Retry(); err != nil {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetriable, p.GetStatus())
	}
	if err := s.repo.SaveProject(ctx, p); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	s.logger.Info("project retry queued", slog.String("project_id", p.ID))
	s.queue.Enqueue(p.ID)
	return p, nil
}

// DeleteProject removes a project that is not currently processing.
func (s *Service) DeleteProject(ctx context.Context, accountID, projectID string) error {
	p, err := s.ownedProject(ctx, accountID, projectID)
	if err != nil {
		return err
	}
	if p.GetStatus() == ProjectProcessing {
		return ErrProjectBusy
	}
	if err := s.repo.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	s.logger.Info("project deleted", slog.String("project_id", projectID))
	return nil
}

// Download resolves the stored object behind a download request. kind is an
// ArtifactKind of the latest completed attempt or DownloadSource.
func (s *Service) Download(ctx context.Context, accountID, projectID string, kind ArtifactKind) (DownloadTarget, error) {
	p, err := s.ownedProject(ctx, accountID, projectID)
	if err != nil {
		return DownloadTarget{}, err
	}
	if kind == DownloadSource {
		if p.SourceKey == "" {
			return DownloadTarget{}, ErrArtifactNotFound
		}
		filename := p.SourceFilename
		if filename == "" {
			filename = p.Name + path.Ext(p.SourceKey)
		}
		return DownloadTarget{Key: p.SourceKey, Filename: filename}, nil
	}

	j, err := s.repo.LatestCompletedJob(ctx, projectID)
	if errors.Is(err, ErrJobNotFound) {
		return DownloadTarget{}, ErrArtifactNotFound
	}
	if err != nil {
		return DownloadTarget{}, fmt.Errorf("find completed job: %w", err)
	}
	key, ok := j.ResultKeys[string(kind)]
	if !ok {
		return DownloadTarget{}, ErrArtifactNotFound
	}
	return DownloadTarget{Key: key, Filename: p.Name + path.Ext(key)}, nil
}

func (s *Service) checkCredit(ctx context.Context, accountID string, seconds int) error {
	bal, err := s.credits.Balance(ctx, accountID)
	if err != nil {
		return fmt.Errorf("check balance: %w", err)
	}
	if bal.Available < seconds {
		return &credit.InsufficientCreditError{Required: seconds, Available: bal.Available}
	}
	return nil
}

func (s *Service) ownedProject(ctx context.Context, accountID, projectID string) (*Project, error) {
	p, err := s.repo.FindProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.AccountID != accountID {
		return nil, ErrProjectNotFound
	}
	return p, nil
}
