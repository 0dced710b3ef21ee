package job

import "context"

// Processor invokes the external editing capability. Each stage blocks until
// the external tool exits and returns the location of what it produced.
type Processor interface {
	// Transcribe produces a subtitle transcript for the source video.
	Transcribe(ctx context.Context, sourcePath, language, workDir string) (transcriptPath string, err error)

	// BuildOverview derives the storyline context from a transcript.
	BuildOverview(ctx context.Context, transcriptPath, workDir string) (contextPath string, err error)

	// Cut runs the variant's cut stage and returns artifact paths by kind.
	Cut(ctx context.Context, variant CutType, sourcePath, transcriptPath, contextPath, outputDir string) (map[ArtifactKind]string, error)
}

// PreviewGenerator renders a lightweight preview of the source video.
type PreviewGenerator interface {
	GeneratePreview(ctx context.Context, sourcePath, outputPath string) error
}

// ArtifactStore moves opaque blobs between local disk and remote storage.
type ArtifactStore interface {
	// Upload stores the local file under key and returns the stored key.
	Upload(ctx context.Context, localPath, key, contentType string) (string, error)

	// Download fetches key into localPath.
	Download(ctx context.Context, key, localPath string) error
}

// CreditLedger is the subset of the credit ledger used by the runner.
type CreditLedger interface {
	Reserve(ctx context.Context, accountID string, seconds int, jobID string) error
	Commit(ctx context.Context, accountID string, seconds int, jobID string) error
	Release(ctx context.Context, accountID string, seconds int, jobID string) error
}

// AccountDirectory resolves where notifications for an account are sent.
type AccountDirectory interface {
	ContactEmail(ctx context.Context, accountID string) (string, error)
}

// Notifier sends best-effort completion and failure messages.
type Notifier interface {
	NotifyCompletion(ctx context.Context, email, projectName, projectID string, cutPercentage float64) error
	NotifyFailure(ctx context.Context, email, projectName, projectID, errorSummary string) error
}
