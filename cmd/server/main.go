// Package main provides the entry point for the eogum API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/eogum-api/internal/bootstrap"
	"github.com/maauso/eogum-api/internal/config"
	"github.com/maauso/eogum-api/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger, closeLog := cfg.NewLogger()
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	logger.Info("starting eogum API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("data_dir", cfg.DataDir),
		slog.String("temp_dir", cfg.TempDir),
		slog.Bool("r2_enabled", cfg.R2Enabled()),
		slog.Bool("email_enabled", cfg.EmailEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("failed to release dependencies", slog.String("error", err.Error()))
		}
	}()

	// Re-admit work interrupted by the previous run before accepting new requests
	if _, err := deps.Runner.Recover(ctx); err != nil {
		return fmt.Errorf("recover projects: %w", err)
	}
	if err := deps.Runner.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}

	handlers := server.NewHandlers(deps.Service, deps.Ledger, deps.Objects, logger,
		server.WithQueue(deps.Runner),
	)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// The in-flight project stays processing and is re-admitted on next start
	deps.Runner.Stop()

	logger.Info("server stopped gracefully")
	return nil
}
