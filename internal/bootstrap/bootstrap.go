// Package bootstrap provides dependency initialization for the eogum API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/maauso/eogum-api/internal/avid"
	"github.com/maauso/eogum-api/internal/config"
	"github.com/maauso/eogum-api/internal/credit"
	"github.com/maauso/eogum-api/internal/job"
	"github.com/maauso/eogum-api/internal/media"
	"github.com/maauso/eogum-api/internal/notify"
	"github.com/maauso/eogum-api/internal/sqlite"
	"github.com/maauso/eogum-api/internal/storage"
)

// ErrAlreadyRunning is returned when another server holds the data directory lock.
var ErrAlreadyRunning = errors.New("another eogum server is already using this data directory")

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	DB      *sqlite.Store
	Ledger  *credit.Ledger
	Objects storage.Store
	Runner  *job.Runner
	Service *job.Service

	lock *flock.Flock
}

// NewDependencies acquires the instance lock and creates every component of
// the server. Close releases them.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	lock, err := acquireLock(cfg.LockPath())
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(ctx, cfg.DBPath())
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database opened", slog.String("path", db.Path()))

	objects, err := initStorage(ctx, cfg, logger)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	ledger := credit.NewLedger(db, logger)
	processor := avid.NewCLI(cfg.AvidCLIPath,
		avid.WithPython(cfg.AvidPython),
		avid.WithLogger(logger),
	)
	runner := job.NewRunner(db, ledger, processor, objects, db, notifier, logger,
		job.WithWorkDir(cfg.TempDir),
		job.WithPreviewGenerator(media.NewPreviewGenerator(cfg.FFmpegPath)),
	)

	return &Dependencies{
		DB:      db,
		Ledger:  ledger,
		Objects: objects,
		Runner:  runner,
		Service: job.NewService(db, ledger, runner, logger),
		lock:    lock,
	}, nil
}

// Close stops the runner, closes the database and releases the lock.
func (d *Dependencies) Close() error {
	d.Runner.Stop()
	return errors.Join(d.DB.Close(), d.lock.Unlock())
}

func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}
	return lock, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.R2Enabled() {
		r2, err := storage.NewR2Storage(ctx, storage.R2Config{
			Bucket:          cfg.R2Bucket,
			Endpoint:        cfg.R2Endpoint(),
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create R2 storage: %w", err)
		}
		logger.Info("R2 storage configured",
			slog.String("bucket", cfg.R2Bucket),
			slog.String("endpoint", cfg.R2Endpoint()),
		)
		return r2, nil
	}

	local, err := storage.NewLocalStorage(filepath.Join(cfg.DataDir, "objects"))
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("root", local.Root()),
	)
	return local, nil
}

func initNotifier(cfg *config.Config, logger *slog.Logger) (job.Notifier, error) {
	if !cfg.EmailEnabled() {
		logger.Warn("RESEND_API_KEY not set, email notifications disabled")
		return notify.Noop{Logger: logger}, nil
	}
	n, err := notify.NewResendNotifier(cfg.ResendAPIKey, cfg.EmailFrom, cfg.PublicURL,
		notify.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	return n, nil
}
