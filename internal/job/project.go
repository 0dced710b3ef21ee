// Package job provides the Project and Job aggregates, the Runner that drives
// a project through the external processing stages, and the startup
// recovery sweep.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/eogum-api/internal/job/id"
)

// CutType selects the cut stage variant.
type CutType string

const (
	// CutSubtitle cuts based on subtitle segments.
	CutSubtitle CutType = "subtitle_cut"
	// CutPodcast cuts with the podcast heuristics.
	CutPodcast CutType = "podcast_cut"
)

// IsValid returns true if the cut type is known.
func (c CutType) IsValid() bool {
	return c == CutSubtitle || c == CutPodcast
}

// ProjectStatus represents the processing state of a Project.
type ProjectStatus string

const (
	// ProjectQueued indicates the project is waiting for the runner.
	ProjectQueued ProjectStatus = "queued"
	// ProjectProcessing indicates an attempt is in flight.
	ProjectProcessing ProjectStatus = "processing"
	// ProjectCompleted indicates the latest attempt succeeded.
	ProjectCompleted ProjectStatus = "completed"
	// ProjectFailed indicates the latest attempt failed; it may be retried.
	ProjectFailed ProjectStatus = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrProjectNotFound is returned when a project cannot be found by ID.
var ErrProjectNotFound = errors.New("project not found")

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectQueued:     {ProjectQueued, ProjectProcessing, ProjectFailed},
	ProjectProcessing: {ProjectQueued, ProjectCompleted, ProjectFailed},
	ProjectCompleted:  {},
	ProjectFailed:     {ProjectQueued},
}

// Project is a user's request to edit one source video.
type Project struct {
	mu sync.RWMutex

	ID                    string
	AccountID             string
	Name                  string
	CutType               CutType
	Language              string
	SourceKey             string
	SourceFilename        string
	SourceSizeBytes       int64
	SourceDurationSeconds int
	Status                ProjectStatus
	Settings              map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewProject creates a queued project with a generated ID.
func NewProject(accountID, name string, cutType CutType) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:        id.Generate(),
		AccountID: accountID,
		Name:      name,
		CutType:   cutType,
		Language:  "ko",
		Status:    ProjectQueued,
		Settings:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Project) transitionTo(status ProjectStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	allowed := false
	for _, s := range projectTransitions[p.Status] {
		if s == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Start moves a queued project to processing.
func (p *Project) Start() error { return p.transitionTo(ProjectProcessing) }

// Complete marks the project completed.
func (p *Project) Complete() error { return p.transitionTo(ProjectCompleted) }

// Fail marks the project failed.
func (p *Project) Fail() error { return p.transitionTo(ProjectFailed) }

// Retry moves a failed project back to queued.
func (p *Project) Retry() error {
	if p.GetStatus() != ProjectFailed {
		return ErrInvalidTransition
	}
	return p.transitionTo(ProjectQueued)
}

// Requeue resets an interrupted queued or processing project to queued.
func (p *Project) Requeue() error {
	switch p.GetStatus() {
	case ProjectQueued, ProjectProcessing:
		return p.transitionTo(ProjectQueued)
	default:
		return ErrInvalidTransition
	}
}

// GetStatus returns the current status (thread-safe).
func (p *Project) GetStatus() ProjectStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status
}

// Clone creates a deep copy of the project for safe reads.
func (p *Project) Clone() *Project {
	p.mu.RLock()
	defer p.mu.RUnlock()

	settings := make(map[string]any, len(p.Settings))
	for k, v := range p.Settings {
		settings[k] = v
	}

	return &Project{
		ID:                    p.ID,
		AccountID:             p.AccountID,
		Name:                  p.Name,
		CutType:               p.CutType,
		Language:              p.Language,
		SourceKey:             p.SourceKey,
		SourceFilename:        p.SourceFilename,
		SourceSizeBytes:       p.SourceSizeBytes,
		SourceDurationSeconds: p.SourceDurationSeconds,
		Status:                p.Status,
		Settings:              settings,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}
