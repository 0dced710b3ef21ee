// Package storage moves source videos and result artifacts between the
// local work area and object storage. It provides an R2 (S3-compatible)
// implementation for production and a local-disk implementation for
// development.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PresignExpiry is how long issued upload and download URLs stay valid.
const PresignExpiry = time.Hour

var (
	// ErrStorage wraps every failed transfer.
	ErrStorage = errors.New("storage error")
	// ErrObjectNotFound is returned when a key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrPresignUnsupported is returned by stores that cannot issue URLs.
	ErrPresignUnsupported = errors.New("presigned URLs are not supported by this store")
	// ErrInvalidKey is returned for keys that escape the store root.
	ErrInvalidKey = errors.New("invalid object key")
)

// Store defines object storage operations used by the runner and the API.
type Store interface {
	// Upload stores the local file under key and returns the stored key.
	Upload(ctx context.Context, localPath, key, contentType string) (string, error)

	// Download fetches key into localPath, creating parent directories.
	Download(ctx context.Context, key, localPath string) error

	// PresignDownload returns a time-limited GET URL that saves as filename.
	PresignDownload(ctx context.Context, key, filename string) (string, error)

	// PresignUpload returns a time-limited PUT URL for a direct client upload.
	PresignUpload(ctx context.Context, key, contentType string) (string, error)
}

// NewSourceKey returns a fresh object key for an uploaded source file,
// keeping its extension: sources/<uuid>.<ext>.
func NewSourceKey(filename string) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		return "sources/" + uuid.NewString()
	}
	return "sources/" + uuid.NewString() + "." + ext
}

// cleanKey rejects absolute keys and keys containing "..".
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
