package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that LocalStorage implements Store.
var _ Store = (*LocalStorage)(nil)

// LocalStorage implements Store on a local directory. Keys map to paths
// below the root. It is used when R2 is not configured.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a LocalStorage rooted at dir.
// If dir is empty, <os.TempDir()>/eogum/objects is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "eogum", "objects")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{root: dir}, nil
}

// Root returns the storage directory.
func (s *LocalStorage) Root() string {
	return s.root
}

func (s *LocalStorage) pathFor(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %q", ErrStorage, err, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Upload copies localPath to the object path for key.
func (s *LocalStorage) Upload(ctx context.Context, localPath, key, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: context cancelled: %w", ErrStorage, err)
	}
	dst, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := copyFile(localPath, dst); err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", ErrStorage, key, err)
	}
	return key, nil
}

// Download copies the object at key to localPath.
func (s *LocalStorage) Download(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: context cancelled: %w", ErrStorage, err)
	}
	src, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := copyFile(src, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: download %s: %w", ErrStorage, key, ErrObjectNotFound)
		}
		return fmt.Errorf("%w: download %s: %w", ErrStorage, key, err)
	}
	return nil
}

// PresignDownload returns a file URL for the object. There is no signature
// or expiry on local disk.
func (s *LocalStorage) PresignDownload(_ context.Context, key, _ string) (string, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %w: %s", ErrStorage, ErrObjectNotFound, key)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// PresignUpload is not supported by LocalStorage.
func (s *LocalStorage) PresignUpload(_ context.Context, _, _ string) (string, error) {
	return "", ErrPresignUnsupported
}

// copyFile streams src to dst, creating dst's parent directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - paths come from the work dir or the store root
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}
