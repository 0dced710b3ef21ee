// Package avid runs the external auto-video-edit command line tool that
// performs transcription, storyline analysis and the cut stages.
package avid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/eogum-api/internal/job"
)

// Default stage timeouts.
const (
	DefaultTranscribeTimeout = time.Hour
	DefaultStageTimeout      = 30 * time.Minute
)

// maxStderrLen bounds the stderr excerpt carried in errors.
const maxStderrLen = 500

const systemPath = "/usr/local/bin:/usr/bin:/bin"

var (
	// ErrProcessing is matched by every *ProcessingError.
	ErrProcessing = errors.New("avid processing failed")
	// ErrOutputMissing is returned when a stage exits cleanly without its output.
	ErrOutputMissing = errors.New("expected output not found")
	// ErrUnknownVariant is returned for cut types the tool does not support.
	ErrUnknownVariant = errors.New("unknown cut variant")
)

// Compile-time check that CLI implements job.Processor.
var _ job.Processor = (*CLI)(nil)

// ProcessingError describes a failed avid invocation.
type ProcessingError struct {
	// Command is the avid subcommand, e.g. "transcribe".
	Command string
	// Stderr holds at most the first 500 characters of stderr.
	Stderr string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("avid %s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("avid %s failed: %s", e.Command, e.Stderr)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrProcessing.
func (e *ProcessingError) Is(target error) bool {
	return target == ErrProcessing
}

// CLI invokes `python -m avid.cli` from the tool's checkout.
type CLI struct {
	cliPath           string
	python            string
	transcribeTimeout time.Duration
	stageTimeout      time.Duration
	logger            *slog.Logger
}

// Option configures a CLI.
type Option func(*CLI)

// WithPython sets the interpreter used to run the tool.
func WithPython(python string) Option {
	return func(c *CLI) {
		if python != "" {
			c.python = python
		}
	}
}

// WithTimeouts overrides the transcription and per-stage timeouts.
func WithTimeouts(transcribe, stage time.Duration) Option {
	return func(c *CLI) {
		if transcribe > 0 {
			c.transcribeTimeout = transcribe
		}
		if stage > 0 {
			c.stageTimeout = stage
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CLI) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCLI creates a CLI for the tool checked out at cliPath.
func NewCLI(cliPath string, opts ...Option) *CLI {
	c := &CLI{
		cliPath:           cliPath,
		python:            "python",
		transcribeTimeout: DefaultTranscribeTimeout,
		stageTimeout:      DefaultStageTimeout,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe produces an SRT transcript of sourcePath in workDir.
func (c *CLI) Transcribe(ctx context.Context, sourcePath, language, workDir string) (string, error) {
	stdout, err := c.run(ctx, c.transcribeTimeout, "transcribe", sourcePath, "-l", language, "-d", workDir)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, ".srt") {
			return line, nil
		}
	}

	fallback := filepath.Join(workDir, stem(sourcePath)+".srt")
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}
	return "", &ProcessingError{Command: "transcribe", Err: fmt.Errorf("%w: srt transcript", ErrOutputMissing)}
}

// BuildOverview writes the storyline context for transcriptPath to
// <workDir>/storyline.json.
func (c *CLI) BuildOverview(ctx context.Context, transcriptPath, workDir string) (string, error) {
	out := filepath.Join(workDir, "storyline.json")
	if _, err := c.run(ctx, c.stageTimeout, "transcript-overview", transcriptPath, "-o", out); err != nil {
		return "", err
	}
	if _, err := os.Stat(out); err != nil {
		return "", &ProcessingError{Command: "transcript-overview", Err: fmt.Errorf("%w: %s", ErrOutputMissing, out)}
	}
	return out, nil
}

// Cut runs the variant's cut stage and collects its outputs by kind. The
// storyline context is included as an artifact.
func (c *CLI) Cut(ctx context.Context, variant job.CutType, sourcePath, transcriptPath, contextPath, outputDir string) (map[job.ArtifactKind]string, error) {
	command, ok := cutCommands[variant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}

	args := []string{command, sourcePath, "--srt", transcriptPath}
	if contextPath != "" {
		args = append(args, "--context", contextPath)
	}
	args = append(args, "-d", outputDir)
	if _, err := c.run(ctx, c.stageTimeout, args...); err != nil {
		return nil, err
	}

	artifacts := collectOutputs(sourcePath, outputDir)
	if contextPath != "" {
		artifacts[job.ArtifactStoryline] = contextPath
	}
	return artifacts, nil
}

var cutCommands = map[job.CutType]string{
	job.CutSubtitle: "subtitle-cut",
	job.CutPodcast:  "podcast-cut",
}

// collectOutputs finds the files the cut stage writes next to each other:
// <stem>.fcpxml, <stem>.srt, <stem>.report.md and <stem>*.avid.json.
func collectOutputs(sourcePath, outputDir string) map[job.ArtifactKind]string {
	s := stem(sourcePath)
	artifacts := make(map[job.ArtifactKind]string)

	candidates := map[job.ArtifactKind]string{
		job.ArtifactEditTimeline:  filepath.Join(outputDir, s+".fcpxml"),
		job.ArtifactSubtitleTrack: filepath.Join(outputDir, s+".srt"),
		job.ArtifactReport:        filepath.Join(outputDir, s+".report.md"),
	}
	for kind, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			artifacts[kind] = p
		}
	}

	matches, err := filepath.Glob(filepath.Join(outputDir, globEscape(s)+"*.avid.json"))
	if err == nil && len(matches) > 0 {
		artifacts[job.ArtifactProjectManifest] = matches[0]
	}
	return artifacts
}

func (c *CLI) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := args[0]
	full := append([]string{"-m", "avid.cli"}, args...)

	// #nosec G204 - interpreter and tool path come from configuration
	cmd := exec.CommandContext(ctx, c.python, full...)
	cmd.Dir = c.cliPath
	cmd.Env = []string{
		"PATH=" + systemPath,
		"HOME=" + homeDir(),
		"PYTHONPATH=" + filepath.Join(c.cliPath, "src"),
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Info("running avid", slog.String("command", command), slog.Any("args", args[1:]))
	started := time.Now()

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", &ProcessingError{Command: command, Err: fmt.Errorf("avid %s cancelled: %w", command, ctx.Err())}
		}
		c.logger.Error("avid failed",
			slog.String("command", command),
			slog.String("stderr", stderr.String()),
		)
		return "", &ProcessingError{
			Command: command,
			Stderr:  truncate(strings.TrimSpace(stderr.String()), maxStderrLen),
			Err:     err,
		}
	}

	c.logger.Debug("avid finished",
		slog.String("command", command),
		slog.Duration("elapsed", time.Since(started)),
	)
	return stdout.String(), nil
}

func stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "/"
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
