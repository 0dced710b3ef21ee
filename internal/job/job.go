package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/eogum-api/internal/job/id"
)

// Status represents the state of one processing attempt.
type Status string

const (
	// StatusRunning indicates the attempt is in flight.
	StatusRunning Status = "running"
	// StatusCompleted indicates the attempt finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the attempt failed.
	StatusFailed Status = "failed"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// ArtifactKind names one output file of the pipeline.
type ArtifactKind string

const (
	ArtifactEditTimeline    ArtifactKind = "edit_timeline"
	ArtifactSubtitleTrack   ArtifactKind = "subtitle_track"
	ArtifactReport          ArtifactKind = "report"
	ArtifactProjectManifest ArtifactKind = "project_manifest"
	ArtifactStoryline       ArtifactKind = "storyline"
	ArtifactPreview         ArtifactKind = "preview"
)

// ContentType returns the MIME type used when uploading an artifact.
func (k ArtifactKind) ContentType() string {
	switch k {
	case ArtifactEditTimeline:
		return "application/xml"
	case ArtifactSubtitleTrack:
		return "text/plain"
	case ArtifactReport:
		return "text/markdown"
	case ArtifactProjectManifest, ArtifactStoryline:
		return "application/json"
	case ArtifactPreview:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// Job represents one processing attempt of a Project.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// ProjectID is the project this attempt belongs to.
	ProjectID string
	// AccountID is the account charged for the attempt.
	AccountID string
	// Type is the cut variant being run.
	Type CutType
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// ErrorMessage contains the truncated failure cause.
	ErrorMessage string
	// ResultKeys maps artifact kinds to their storage keys.
	ResultKeys map[string]string
	// CreatedAt is when the job row was created.
	CreatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a running job for the given project.
func New(p *Project) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         id.Generate(),
		ProjectID:  p.ID,
		AccountID:  p.AccountID,
		Type:       p.CutType,
		Status:     StatusRunning,
		ResultKeys: make(map[string]string),
		CreatedAt:  now,
		StartedAt:  now,
	}
}

// Complete transitions the job to completed with progress 100.
// Returns ErrInvalidTransition if the job is not running.
func (j *Job) Complete(resultKeys map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.ResultKeys = make(map[string]string, len(resultKeys))
	for k, v := range resultKeys {
		j.ResultKeys[k] = v
	}
	j.CompletedAt = time.Now().UTC()
	return nil
}

// Fail transitions the job to failed with an error message.
// Returns ErrInvalidTransition if the job is not running.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusRunning {
		return ErrInvalidTransition
	}
	j.Status = StatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = time.Now().UTC()
	return nil
}

// UpdateProgress raises progress to the given checkpoint. Lower values and
// updates on terminal jobs are ignored, so progress never decreases.
func (j *Job) UpdateProgress(progress int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = min(max(progress, 0), 100)
	if j.Status != StatusRunning || progress <= j.Progress {
		return false
	}
	j.Progress = progress
	return true
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	s := j.GetStatus()
	return s == StatusCompleted || s == StatusFailed
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	keys := make(map[string]string, len(j.ResultKeys))
	for k, v := range j.ResultKeys {
		keys[k] = v
	}

	return &Job{
		ID:           j.ID,
		ProjectID:    j.ProjectID,
		AccountID:    j.AccountID,
		Type:         j.Type,
		Status:       j.Status,
		Progress:     j.Progress,
		ErrorMessage: j.ErrorMessage,
		ResultKeys:   keys,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// Report is the persisted summary parsed from a report artifact.
type Report struct {
	ProjectID            string
	TotalDurationSeconds int
	CutDurationSeconds   int
	CutPercentage        float64
	Markdown             string
	CreatedAt            time.Time
}
