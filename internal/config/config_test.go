package config

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGINS", "PUBLIC_URL", "DATA_DIR", "DATABASE_PATH",
		"TEMP_DIR", "AVID_CLI_PATH", "AVID_PYTHON", "FFMPEG_PATH",
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET",
		"RESEND_API_KEY", "EMAIL_FROM", "LOG_FORMAT", "LOG_LEVEL", "LOG_FILE",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing AVID_CLI_PATH returns error", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAvidCLIPathRequired)
	})

	t.Run("all required variables present succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("AVID_CLI_PATH", "/opt/avid")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "/opt/avid", cfg.AvidCLIPath)
	})
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AVID_CLI_PATH", "/opt/avid")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "/var/lib/eogum", cfg.DataDir)
	assert.Equal(t, "/var/lib/eogum/eogum.db", cfg.DBPath())
	assert.Equal(t, "/var/lib/eogum/eogum.lock", cfg.LockPath())
	assert.Equal(t, "/tmp/eogum", cfg.TempDir)
	assert.Equal(t, "python", cfg.AvidPython)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "eogum", cfg.R2Bucket)
	assert.Equal(t, "noreply@sudoremove.com", cfg.EmailFrom)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.R2Enabled())
	assert.False(t, cfg.EmailEnabled())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("AVID_CLI_PATH", "/opt/avid")
	t.Setenv("PORT", "3000")
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("DATABASE_PATH", "/db/custom.db")
	t.Setenv("TEMP_DIR", "/custom/temp")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "access-key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("R2_BUCKET", "media")
	t.Setenv("RESEND_API_KEY", "re_123")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/db/custom.db", cfg.DBPath())
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.True(t, cfg.R2Enabled())
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com", cfg.R2Endpoint())
	assert.Equal(t, "media", cfg.R2Bucket)
	assert.True(t, cfg.EmailEnabled())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv("AVID_CLI_PATH", "/opt/avid")
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_PartialR2(t *testing.T) {
	clearEnv(t)
	t.Setenv("AVID_CLI_PATH", "/opt/avid")
	t.Setenv("R2_ACCOUNT_ID", "acct")

	_, err := Load()
	assert.ErrorIs(t, err, ErrR2CredentialsIncomplete)
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:              8000,
		DataDir:           "/data",
		TempDir:           "/tmp/test",
		AvidCLIPath:       "/opt/avid",
		R2AccountID:       "acct",
		R2AccessKeyID:     "access-key",
		R2SecretAccessKey: "secret-key",
		ResendAPIKey:      "re_secret",
		LogFormat:         "json",
		LogLevel:          "info",
	}

	str := cfg.String()

	assert.Contains(t, str, "8000")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "/data/eogum.db")

	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "access-key")
	assert.NotContains(t, str, "re_secret")
}

func TestConfig_NewLogger_WithFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "eogum.log")
	cfg := &Config{LogFormat: "text", LogLevel: "info", LogFile: logFile}

	logger, cleanup := cfg.NewLogger()
	require.NotNil(t, logger)

	logger.Info("fanout message", slog.String("project_id", "p1"))
	require.NoError(t, cleanup())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "fanout message", record["msg"])
	assert.Equal(t, "p1", record["project_id"])
}

func TestConfig_NewLogger_Stdout(t *testing.T) {
	cfg := &Config{LogFormat: "json", LogLevel: "debug"}

	logger, cleanup := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := &Config{AvidCLIPath: "/opt/avid"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing avid path", func(t *testing.T) {
		cfg := &Config{}
		assert.ErrorIs(t, cfg.Validate(), ErrAvidCLIPathRequired)
	})
}

func TestLoadAdmin(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadAdmin()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/eogum/eogum.db", cfg.DBPath())
	assert.Equal(t, "warn", cfg.LogLevel)

	t.Setenv("DATABASE_PATH", "/db/admin.db")
	cfg, err = LoadAdmin()
	require.NoError(t, err)
	assert.Equal(t, "/db/admin.db", cfg.DBPath())
	assert.NotNil(t, cfg.NewLogger(io.Discard))
}
