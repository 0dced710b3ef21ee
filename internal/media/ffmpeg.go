// Package media renders lightweight previews of source videos with ffmpeg.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultPreviewTimeout bounds a single preview render.
const DefaultPreviewTimeout = 10 * time.Minute

// previewHeight is the output height; width keeps the aspect ratio.
const previewHeight = 480

var (
	// ErrPreview wraps every preview generation failure.
	ErrPreview = errors.New("preview generation failed")
	// ErrSourceMissing is returned when the source video does not exist.
	ErrSourceMissing = errors.New("source video not found")
)

// PreviewGenerator renders downscaled H.264 previews using the ffmpeg CLI.
type PreviewGenerator struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	timeout    time.Duration
}

// Option configures a PreviewGenerator.
type Option func(*PreviewGenerator)

// WithTimeout overrides DefaultPreviewTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *PreviewGenerator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewPreviewGenerator creates a PreviewGenerator.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewPreviewGenerator(ffmpegPath string, opts ...Option) *PreviewGenerator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	g := &PreviewGenerator{ffmpegPath: ffmpegPath, timeout: DefaultPreviewTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GeneratePreview writes a 480p MP4 of sourcePath to outputPath.
func (g *PreviewGenerator) GeneratePreview(ctx context.Context, sourcePath, outputPath string) error {
	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("%w: %w: %s", ErrPreview, ErrSourceMissing, sourcePath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return fmt.Errorf("%w: create output dir: %w", ErrPreview, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	args := []string{
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale=-2:%d", previewHeight),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "28",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
	if err := g.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("%w: %w", ErrPreview, err)
	}
	return nil
}

// runFFmpeg executes ffmpeg and returns an *FFmpegError carrying stderr on
// failure.
func (g *PreviewGenerator) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, g.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
