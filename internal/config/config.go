// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrAvidCLIPathRequired is returned when AVID_CLI_PATH is not set.
	ErrAvidCLIPathRequired = errors.New("config: AVID_CLI_PATH is required")
	// ErrR2CredentialsIncomplete is returned when only part of the R2 settings is provided.
	ErrR2CredentialsIncomplete = errors.New("config: R2_ACCOUNT_ID, R2_ACCESS_KEY_ID and R2_SECRET_ACCESS_KEY must be set together")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8000" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=https://eogum.sudoremove.com,http://localhost:3000" json:"allowed_origins"`
	PublicURL      string   `env:"PUBLIC_URL, default=https://eogum.sudoremove.com" json:"public_url"`

	// Persistence settings
	DataDir      string `env:"DATA_DIR, default=/var/lib/eogum" json:"data_dir"`
	DatabasePath string `env:"DATABASE_PATH" json:"database_path"`

	// Processing settings
	TempDir     string `env:"TEMP_DIR, default=/tmp/eogum" json:"temp_dir"`
	AvidCLIPath string `env:"AVID_CLI_PATH, required" json:"avid_cli_path"`
	AvidPython  string `env:"AVID_PYTHON, default=python" json:"avid_python"`
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Cloudflare R2 settings (S3-compatible). Local storage is used when unset.
	R2AccountID       string `env:"R2_ACCOUNT_ID" json:"r2_account_id,omitempty"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	R2Bucket          string `env:"R2_BUCKET, default=eogum" json:"r2_bucket"`

	// Email settings
	ResendAPIKey string `env:"RESEND_API_KEY" json:"-"` // Masked in JSON
	EmailFrom    string `env:"EMAIL_FROM, default=noreply@sudoremove.com" json:"email_from"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFile   string `env:"LOG_FILE" json:"log_file,omitempty"`         // optional JSON copy of all logs
}

// R2Enabled returns true if R2 configuration is provided.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != ""
}

// R2Endpoint returns the account-scoped S3 endpoint for R2.
func (c *Config) R2Endpoint() string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2AccountID)
}

// EmailEnabled returns true if outbound email is configured.
func (c *Config) EmailEnabled() bool {
	return c.ResendAPIKey != ""
}

// DBPath returns the SQLite database location, defaulting to DataDir/eogum.db.
func (c *Config) DBPath() string {
	return dbPath(c.DataDir, c.DatabasePath)
}

// LockPath returns the path of the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "eogum.lock")
}

// AdminConfig holds the settings used by the admin CLI. It does not require
// the processing settings of the server.
type AdminConfig struct {
	DataDir      string `env:"DATA_DIR, default=/var/lib/eogum"`
	DatabasePath string `env:"DATABASE_PATH"`
	LogLevel     string `env:"LOG_LEVEL, default=warn"`
}

// LoadAdmin reads the admin CLI settings from environment variables.
func LoadAdmin() (*AdminConfig, error) {
	cfg := &AdminConfig{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// DBPath returns the SQLite database location, defaulting to DataDir/eogum.db.
func (c *AdminConfig) DBPath() string {
	return dbPath(c.DataDir, c.DatabasePath)
}

// NewLogger returns a text logger writing to w, normally the command's stderr.
func (c *AdminConfig) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}))
}

func dbPath(dataDir, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(dataDir, "eogum.db")
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "AVID_CLI_PATH") {
			return nil, ErrAvidCLIPathRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.AvidCLIPath == "" {
		return ErrAvidCLIPathRequired
	}
	anyR2 := c.R2AccountID != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != ""
	if anyR2 && !c.R2Enabled() {
		return ErrR2CredentialsIncomplete
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs. If LogFile is set, every
// record is also written as JSON to that file; the returned cleanup closes it.
func (c *Config) NewLogger() (*slog.Logger, func() error) {
	stdout := c.newHandler(os.Stdout)
	if c.LogFile == "" {
		return slog.New(stdout), func() error { return nil }
	}

	file, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		logger := slog.New(stdout)
		logger.Error("failed to open log file, using stdout only",
			slog.String("file", c.LogFile),
			slog.String("error", err.Error()),
		)
		return logger, func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)})
	return slog.New(slogmulti.Fanout(stdout, fileHandler)), file.Close
}

func (c *Config) newHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DataDir: %s, DatabasePath: %s, TempDir: %s, AvidCLIPath: %s, R2AccountID: %s, R2Bucket: %s, EmailEnabled: %t, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DataDir,
		c.DBPath(),
		c.TempDir,
		c.AvidCLIPath,
		c.R2AccountID,
		c.R2Bucket,
		c.EmailEnabled(),
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
