// Package notify sends completion and failure emails for processed projects.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maauso/eogum-api/internal/job"
)

// Static errors for the Resend client.
var (
	// ErrAPIKeyRequired is returned when no API key is provided.
	ErrAPIKeyRequired = errors.New("notify: resend API key is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("notify: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("notify: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("notify: request failed")
)

const defaultBaseURL = "https://api.resend.com"

// Compile-time checks.
var (
	_ job.Notifier = (*ResendNotifier)(nil)
	_ job.Notifier = Noop{}
)

// ResendNotifier sends emails through the Resend HTTP API.
type ResendNotifier struct {
	apiKey      string
	from        string
	publicURL   string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// Option configures a ResendNotifier.
type Option func(*ResendNotifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *ResendNotifier) {
		n.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Resend API.
func WithBaseURL(url string) Option {
	return func(n *ResendNotifier) {
		n.baseURL = strings.TrimRight(url, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(max int) Option {
	return func(n *ResendNotifier) {
		n.maxRetries = max
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) Option {
	return func(n *ResendNotifier) {
		n.baseBackoff = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *ResendNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewResendNotifier creates a notifier sending from the given address.
// publicURL is the web app origin used for project links.
func NewResendNotifier(apiKey, from, publicURL string, opts ...Option) (*ResendNotifier, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	n := &ResendNotifier{
		apiKey:      apiKey,
		from:        from,
		publicURL:   strings.TrimRight(publicURL, "/"),
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		maxRetries:  2,
		baseBackoff: 500 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyCompletion sends the "editing finished" email.
func (n *ResendNotifier) NotifyCompletion(ctx context.Context, email, projectName, projectID string, cutPercentage float64) error {
	msg, err := renderCompletion(completionData{
		ProjectName:   projectName,
		CutPercentage: fmt.Sprintf("%.1f", cutPercentage),
		ProjectURL:    n.projectURL(projectID),
	})
	if err != nil {
		return err
	}
	return n.send(ctx, email, msg)
}

// NotifyFailure sends the "processing failed" email.
func (n *ResendNotifier) NotifyFailure(ctx context.Context, email, projectName, projectID, errorSummary string) error {
	msg, err := renderFailure(failureData{
		ProjectName: projectName,
		Error:       errorSummary,
		ProjectURL:  n.projectURL(projectID),
	})
	if err != nil {
		return err
	}
	return n.send(ctx, email, msg)
}

func (n *ResendNotifier) projectURL(projectID string) string {
	return n.publicURL + "/projects/" + projectID
}

func (n *ResendNotifier) send(ctx context.Context, to string, msg message) error {
	body, err := json.Marshal(sendRequest{
		From:    n.from,
		To:      []string{to},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal request: %w", err)
	}

	var resp sendResponse
	if err := n.doRequestWithRetry(ctx, n.baseURL+"/emails", body, &resp); err != nil {
		return err
	}
	n.logger.Info("email sent",
		slog.String("email_id", resp.ID),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (n *ResendNotifier) doRequestWithRetry(ctx context.Context, url string, body []byte, result any) error {
	var lastErr error
	backoff := n.baseBackoff

	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("notify: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := n.doRequest(ctx, url, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("notify: max retries exceeded: %w", lastErr)
}

func (n *ResendNotifier) doRequest(ctx context.Context, url string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("notify: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("notify: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("notify: unmarshal response: %w", err)
		}
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Noop discards notifications. It is used when no API key is configured.
type Noop struct {
	Logger *slog.Logger
}

// NotifyCompletion logs and drops the message.
func (n Noop) NotifyCompletion(_ context.Context, email, projectName, _ string, _ float64) error {
	n.warn(email, projectName)
	return nil
}

// NotifyFailure logs and drops the message.
func (n Noop) NotifyFailure(_ context.Context, email, projectName, _, _ string) error {
	n.warn(email, projectName)
	return nil
}

func (n Noop) warn(email, projectName string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("email not configured, skipping notification",
		slog.String("email", email),
		slog.String("project", projectName),
	)
}
