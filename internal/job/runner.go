package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/maauso/eogum-api/internal/report"
)

// Progress checkpoints recorded after each stage.
const (
	progressDownloaded  = 10
	progressTranscribed = 30
	progressOverview    = 50
	progressCut         = 75
	progressUploaded    = 85
)

const (
	maxErrorMessageLen = 1000
	maxErrorSummaryLen = 200
)

// ErrRunnerStarted is returned when Start is called on a running Runner.
var ErrRunnerStarted = errors.New("runner already started")

// Runner executes queued projects one at a time in FIFO order.
//
// Enqueue never blocks: it appends to the pending list and wakes the single
// consumer goroutine started by Start.
type Runner struct {
	repo      Repository
	ledger    CreditLedger
	processor Processor
	store     ArtifactStore
	accounts  AccountDirectory
	notifier  Notifier
	preview   PreviewGenerator
	logger    *slog.Logger
	workDir   string

	afterProcess func(projectID string, err error)

	mu      sync.Mutex
	pending []string
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkDir sets the root under which per-project work areas are created.
func WithWorkDir(dir string) RunnerOption {
	return func(r *Runner) {
		if dir != "" {
			r.workDir = dir
		}
	}
}

// WithPreviewGenerator enables best-effort preview rendering.
func WithPreviewGenerator(p PreviewGenerator) RunnerOption {
	return func(r *Runner) {
		r.preview = p
	}
}

// WithAfterProcess registers a hook called after each dequeued project
// finishes, successfully or not.
func WithAfterProcess(fn func(projectID string, err error)) RunnerOption {
	return func(r *Runner) {
		r.afterProcess = fn
	}
}

// NewRunner creates a Runner. A nil notifier disables notifications.
func NewRunner(
	repo Repository,
	ledger CreditLedger,
	processor Processor,
	store ArtifactStore,
	accounts AccountDirectory,
	notifier Notifier,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	r := &Runner{
		repo:      repo,
		ledger:    ledger,
		processor: processor,
		store:     store,
		accounts:  accounts,
		notifier:  notifier,
		logger:    logger,
		workDir:   filepath.Join(os.TempDir(), "eogum"),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue appends a project to the back of the queue.
func (r *Runner) Enqueue(projectID string) {
	r.mu.Lock()
	r.pending = append(r.pending, projectID)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of projects waiting to run.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Start launches the consumer goroutine.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrRunnerStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(runCtx, r.done)
	return nil
}

// Stop cancels the consumer and waits for it to exit. An in-flight job is
// interrupted and left for the next recovery sweep.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return "", false
	}
	id := r.pending[0]
	r.pending = r.pending[1:]
	return id, true
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		for ctx.Err() == nil {
			projectID, ok := r.next()
			if !ok {
				break
			}
			r.runOne(ctx, projectID)
		}
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
	}
}

func (r *Runner) runOne(ctx context.Context, projectID string) {
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			r.logger.Error("fatal error processing project",
				slog.String("project_id", projectID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
		if r.afterProcess != nil {
			r.afterProcess(projectID, err)
		}
	}()
	err = r.Process(ctx, projectID)
}

// attempt carries the state of one processing attempt.
type attempt struct {
	project *Project
	job     *Job
	email   string
	workDir string
	logger  *slog.Logger

	held          bool
	resultKeys    map[string]string
	cutPercentage float64
}

// Process runs one attempt of the project synchronously.
func (r *Runner) Process(ctx context.Context, projectID string) error {
	logger := r.logger.With(slog.String("project_id", projectID))

	project, err := r.repo.FindProject(ctx, projectID)
	if err != nil {
		logger.Error("failed to load project", slog.String("error", err.Error()))
		return fmt.Errorf("load project: %w", err)
	}
	logger = logger.With(slog.String("account_id", project.AccountID))

	email, err := r.accounts.ContactEmail(ctx, project.AccountID)
	if err != nil {
		logger.Error("failed to resolve account for project",
			slog.String("status", string(project.GetStatus())),
			slog.String("error", err.Error()),
		)
		r.failUnresolved(ctx, logger, project, err)
		return fmt.Errorf("resolve account: %w", err)
	}

	if err := project.Start(); err != nil {
		logger.Warn("project is not queued, skipping",
			slog.String("status", string(project.GetStatus())),
		)
		return fmt.Errorf("start project: %w", err)
	}
	if err := r.repo.SaveProject(ctx, project); err != nil {
		logger.Error("failed to mark project processing", slog.String("error", err.Error()))
		return fmt.Errorf("save project: %w", err)
	}

	j := New(project)
	if err := r.repo.SaveJob(ctx, j); err != nil {
		logger.Error("failed to create job", slog.String("error", err.Error()))
		if failErr := project.Fail(); failErr == nil {
			r.saveProject(ctx, logger, project)
		}
		return fmt.Errorf("create job: %w", err)
	}

	a := &attempt{
		project: project,
		job:     j,
		email:   email,
		workDir: filepath.Join(r.workDir, project.ID),
		logger:  logger.With(slog.String("job_id", j.ID)),
	}
	defer r.cleanup(a)

	a.logger.Info("job started",
		slog.String("cut_type", string(project.CutType)),
		slog.Int("duration_seconds", project.SourceDurationSeconds),
	)

	if err := r.executeSafely(ctx, a); err != nil {
		r.handleFailure(ctx, a, err)
		return err
	}
	r.handleSuccess(ctx, a)
	return nil
}

func (r *Runner) executeSafely(ctx context.Context, a *attempt) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("panic during pipeline",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.execute(ctx, a)
}

func (r *Runner) execute(ctx context.Context, a *attempt) error {
	p := a.project

	if err := r.ledger.Reserve(ctx, p.AccountID, p.SourceDurationSeconds, a.job.ID); err != nil {
		return fmt.Errorf("reserve credits: %w", err)
	}
	a.held = true

	outputDir := filepath.Join(a.workDir, "output")
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	sourcePath := filepath.Join(a.workDir, "source"+sourceExt(p))
	if err := r.store.Download(ctx, p.SourceKey, sourcePath); err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	r.checkpoint(ctx, a, progressDownloaded)

	transcript, err := r.processor.Transcribe(ctx, sourcePath, p.Language, a.workDir)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	r.checkpoint(ctx, a, progressTranscribed)

	storyline, err := r.processor.BuildOverview(ctx, transcript, a.workDir)
	if err != nil {
		return fmt.Errorf("build overview: %w", err)
	}
	r.checkpoint(ctx, a, progressOverview)

	artifacts, err := r.processor.Cut(ctx, p.CutType, sourcePath, transcript, storyline, outputDir)
	if err != nil {
		return fmt.Errorf("cut: %w", err)
	}
	r.checkpoint(ctx, a, progressCut)

	r.generatePreview(ctx, a, sourcePath, outputDir, artifacts)

	keys, err := r.uploadArtifacts(ctx, p.ID, artifacts)
	if err != nil {
		return err
	}
	a.resultKeys = keys
	r.checkpoint(ctx, a, progressUploaded)

	if reportPath, ok := artifacts[ArtifactReport]; ok {
		if err := r.saveReport(ctx, a, reportPath); err != nil {
			return err
		}
	}

	if err := r.ledger.Commit(ctx, p.AccountID, p.SourceDurationSeconds, a.job.ID); err != nil {
		return fmt.Errorf("confirm usage: %w", err)
	}
	a.held = false
	return nil
}

func (r *Runner) checkpoint(ctx context.Context, a *attempt, progress int) {
	if !a.job.UpdateProgress(progress) {
		return
	}
	if err := r.repo.SaveJob(ctx, a.job); err != nil {
		a.logger.Warn("failed to persist progress",
			slog.Int("progress", progress),
			slog.String("error", err.Error()),
		)
	}
}

// generatePreview renders the preview artifact. Failures are logged and
// the artifact is omitted.
func (r *Runner) generatePreview(ctx context.Context, a *attempt, sourcePath, outputDir string, artifacts map[ArtifactKind]string) {
	if r.preview == nil {
		return
	}
	previewPath := filepath.Join(outputDir, "preview.mp4")
	if err := r.preview.GeneratePreview(ctx, sourcePath, previewPath); err != nil {
		a.logger.Warn("preview generation failed, skipping", slog.String("error", err.Error()))
		return
	}
	artifacts[ArtifactPreview] = previewPath
}

func (r *Runner) uploadArtifacts(ctx context.Context, projectID string, artifacts map[ArtifactKind]string) (map[string]string, error) {
	kinds := make([]string, 0, len(artifacts))
	for kind := range artifacts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	keys := make(map[string]string, len(artifacts))
	for _, k := range kinds {
		kind := ArtifactKind(k)
		localPath := artifacts[kind]
		key := fmt.Sprintf("results/%s/%s", projectID, filepath.Base(localPath))
		stored, err := r.store.Upload(ctx, localPath, key, kind.ContentType())
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", kind, err)
		}
		keys[k] = stored
	}
	return keys, nil
}

func (r *Runner) saveReport(ctx context.Context, a *attempt, reportPath string) error {
	data, err := os.ReadFile(reportPath) // #nosec G304 - path is produced by the cut stage inside the work dir
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	markdown := string(data)
	pct, ok := report.ParseCutPercentage(markdown)
	if !ok {
		a.logger.Debug("no cut percentage found in report")
	}
	a.cutPercentage = pct

	rep := &Report{
		ProjectID:            a.project.ID,
		TotalDurationSeconds: a.project.SourceDurationSeconds,
		CutDurationSeconds:   report.CutDurationSeconds(a.project.SourceDurationSeconds, pct),
		CutPercentage:        pct,
		Markdown:             markdown,
	}
	if err := r.repo.SaveReport(ctx, rep); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (r *Runner) handleSuccess(ctx context.Context, a *attempt) {
	if err := a.job.Complete(a.resultKeys); err != nil {
		a.logger.Error("failed to complete job", slog.String("error", err.Error()))
	}
	if err := r.repo.SaveJob(ctx, a.job); err != nil {
		a.logger.Error("failed to persist completed job", slog.String("error", err.Error()))
	}
	if err := a.project.Complete(); err != nil {
		a.logger.Error("failed to complete project", slog.String("error", err.Error()))
	}
	r.saveProject(ctx, a.logger, a.project)

	a.logger.Info("job completed",
		slog.Int("artifacts", len(a.resultKeys)),
		slog.Float64("cut_percentage", a.cutPercentage),
	)

	if err := r.notifier.NotifyCompletion(ctx, a.email, a.project.Name, a.project.ID, a.cutPercentage); err != nil {
		a.logger.Warn("failed to send completion notification", slog.String("error", err.Error()))
	}
}

// handleFailure runs the compensating actions for a failed attempt.
// When the runner is shutting down the project is left in processing so the
// next recovery sweep re-admits it.
func (r *Runner) handleFailure(ctx context.Context, a *attempt, cause error) {
	shutdown := ctx.Err() != nil
	ctx = context.WithoutCancel(ctx)

	a.logger.Error("job failed",
		slog.String("error", cause.Error()),
		slog.Bool("credit_held", a.held),
		slog.Int("progress", a.job.Clone().Progress),
	)

	if a.held {
		if err := r.ledger.Release(ctx, a.project.AccountID, a.project.SourceDurationSeconds, a.job.ID); err != nil {
			a.logger.Error("failed to release credit hold", slog.String("error", err.Error()))
		} else {
			a.held = false
		}
	}

	message := cause.Error()
	if shutdown {
		message = "interrupted by shutdown: " + message
	}
	if err := a.job.Fail(truncate(message, maxErrorMessageLen)); err != nil {
		a.logger.Error("failed to mark job failed", slog.String("error", err.Error()))
	}
	if err := r.repo.SaveJob(ctx, a.job); err != nil {
		a.logger.Error("failed to persist failed job", slog.String("error", err.Error()))
	}

	if shutdown {
		a.logger.Warn("job interrupted by shutdown, project left for recovery")
		return
	}

	if err := a.project.Fail(); err != nil {
		a.logger.Error("failed to mark project failed", slog.String("error", err.Error()))
	}
	r.saveProject(ctx, a.logger, a.project)

	if err := r.notifier.NotifyFailure(ctx, a.email, a.project.Name, a.project.ID, truncate(cause.Error(), maxErrorSummaryLen)); err != nil {
		a.logger.Warn("failed to send failure notification", slog.String("error", err.Error()))
	}
}

// failUnresolved records a failed attempt for a project whose account
// cannot be resolved. No credit was held and nobody can be notified.
func (r *Runner) failUnresolved(ctx context.Context, logger *slog.Logger, project *Project, cause error) {
	if err := project.Fail(); err != nil {
		return
	}
	r.saveProject(ctx, logger, project)

	j := New(project)
	_ = j.Fail(truncate(cause.Error(), maxErrorMessageLen))
	if err := r.repo.SaveJob(ctx, j); err != nil {
		logger.Error("failed to persist failed job", slog.String("error", err.Error()))
	}
}

func (r *Runner) saveProject(ctx context.Context, logger *slog.Logger, project *Project) {
	if err := r.repo.SaveProject(ctx, project); err != nil {
		logger.Error("failed to persist project",
			slog.String("status", string(project.GetStatus())),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runner) cleanup(a *attempt) {
	if err := os.RemoveAll(a.workDir); err != nil {
		a.logger.Warn("failed to remove work dir",
			slog.String("path", a.workDir),
			slog.String("error", err.Error()),
		)
	}
}

func sourceExt(p *Project) string {
	if ext := filepath.Ext(p.SourceFilename); ext != "" {
		return ext
	}
	return filepath.Ext(p.SourceKey)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

type noopNotifier struct{}

func (noopNotifier) NotifyCompletion(context.Context, string, string, string, float64) error {
	return nil
}

func (noopNotifier) NotifyFailure(context.Context, string, string, string, string) error {
	return nil
}
