// Package server provides the HTTP API for eogum.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/eogum-api/internal/credit"
	"github.com/maauso/eogum-api/internal/job"
)

// CreateProjectRequest is the HTTP request body for creating a project.
type CreateProjectRequest struct {
	Name                  string         `json:"name" validate:"required,max=200"`
	CutType               string         `json:"cut_type" validate:"required,oneof=subtitle_cut podcast_cut"`
	Language              string         `json:"language" validate:"omitempty,min=2,max=10"`
	SourceKey             string         `json:"source_key" validate:"required"`
	SourceFilename        string         `json:"source_filename" validate:"required"`
	SourceDurationSeconds int            `json:"source_duration_seconds" validate:"required,min=1"`
	SourceSizeBytes       int64          `json:"source_size_bytes" validate:"min=0"`
	Settings              map[string]any `json:"settings"`
}

// PresignUploadRequest asks for a direct upload URL for a source video.
type PresignUploadRequest struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"content_type" validate:"required"`
	SizeBytes   int64  `json:"size_bytes" validate:"min=0"`
}

// PresignUploadResponse carries the upload URL and the key to reference later.
type PresignUploadResponse struct {
	UploadURL string `json:"upload_url"`
	Key       string `json:"key"`
}

// DownloadResponse carries a time-limited download URL.
type DownloadResponse struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

// ProjectResponse is the list view of a project.
type ProjectResponse struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Status                string    `json:"status"`
	CutType               string    `json:"cut_type"`
	Language              string    `json:"language"`
	SourceFilename        string    `json:"source_filename,omitempty"`
	SourceDurationSeconds int       `json:"source_duration_seconds"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ProjectDetailResponse adds the jobs and report to a project.
type ProjectDetailResponse struct {
	ProjectResponse
	SourceKey       string          `json:"source_key"`
	SourceSizeBytes int64           `json:"source_size_bytes"`
	Settings        map[string]any  `json:"settings"`
	Jobs            []JobResponse   `json:"jobs"`
	Report          *ReportResponse `json:"report"`
}

// JobResponse is one processing attempt.
type JobResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ReportResponse is the edit report of the latest successful attempt.
type ReportResponse struct {
	TotalDurationSeconds int     `json:"total_duration_seconds"`
	CutDurationSeconds   int     `json:"cut_duration_seconds"`
	CutPercentage        float64 `json:"cut_percentage"`
	ReportMarkdown       string  `json:"report_markdown"`
}

// TransactionResponse is one ledger audit record.
type TransactionResponse struct {
	ID            string    `json:"id"`
	AmountSeconds int       `json:"amount_seconds"`
	Type          string    `json:"type"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// transactionsQuery holds the paging parameters of the transactions route.
type transactionsQuery struct {
	Limit  int `validate:"min=1,max=200"`
	Offset int `validate:"min=0"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Required and Available are set for INSUFFICIENT_CREDIT.
	Required  *int `json:"required_seconds,omitempty"`
	Available *int `json:"available_seconds,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Pending is the number of projects waiting for the runner.
	Pending int `json:"pending"`
}

func toProjectResponse(p *job.Project) ProjectResponse {
	return ProjectResponse{
		ID:                    p.ID,
		Name:                  p.Name,
		Status:                string(p.Status),
		CutType:               string(p.CutType),
		Language:              p.Language,
		SourceFilename:        p.SourceFilename,
		SourceDurationSeconds: p.SourceDurationSeconds,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func toProjectDetailResponse(d *job.ProjectDetail) ProjectDetailResponse {
	resp := ProjectDetailResponse{
		ProjectResponse: toProjectResponse(d.Project),
		SourceKey:       d.Project.SourceKey,
		SourceSizeBytes: d.Project.SourceSizeBytes,
		Settings:        d.Project.Settings,
		Jobs:            make([]JobResponse, 0, len(d.Jobs)),
	}
	for _, j := range d.Jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	if d.Report != nil {
		resp.Report = &ReportResponse{
			TotalDurationSeconds: d.Report.TotalDurationSeconds,
			CutDurationSeconds:   d.Report.CutDurationSeconds,
			CutPercentage:        d.Report.CutPercentage,
			ReportMarkdown:       d.Report.Markdown,
		}
	}
	return resp
}

func toJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		Type:         string(j.Type),
		Status:       string(j.Status),
		Progress:     j.Progress,
		ErrorMessage: j.ErrorMessage,
		StartedAt:    optionalTime(j.StartedAt),
		CompletedAt:  optionalTime(j.CompletedAt),
		CreatedAt:    j.CreatedAt,
	}
}

func toTransactionResponse(tx credit.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            tx.ID,
		AmountSeconds: tx.AmountSeconds,
		Type:          string(tx.Kind),
		Description:   tx.Description,
		CreatedAt:     tx.CreatedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
