package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/maauso/eogum-api/internal/config"
	"github.com/maauso/eogum-api/internal/sqlite"
)

type commandContext struct {
	dbFlag *string

	configOnce sync.Once
	config     *config.AdminConfig
	configErr  error
}

func newCommandContext(dbFlag *string) *commandContext {
	return &commandContext{dbFlag: dbFlag}
}

func (c *commandContext) ensureConfig() (*config.AdminConfig, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadAdmin()
		if err != nil {
			c.configErr = err
			return
		}
		if c.dbFlag != nil && strings.TrimSpace(*c.dbFlag) != "" {
			cfg.DatabasePath = strings.TrimSpace(*c.dbFlag)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the database for the duration of fn.
func (c *commandContext) withStore(cmd *cobra.Command, fn func(*sqlite.Store, *slog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	store, err := sqlite.Open(cmd.Context(), cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath(), err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}()
	return fn(store, logger)
}
