package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	readHeaderTimeout      = 10 * time.Second
	defaultEnvFile         = ".env"
)

type cliOptions struct {
	configPath string
	envFiles   []string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "liveclass-server",
		Short:         "Live tutoring sessions: video rooms, whiteboards and reconciliation sweeps",
		Long:          "HTTP and WebSocket API for tutoring sessions. Commands: serve (default), migrate, sweep.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration directory or file")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "Dotenv files loaded before configuration (default .env when present)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, realtime hub and background sweeps",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(opts)
			},
		},
		newSweepCommand(opts),
	)
	return root
}

func newSweepCommand(opts *cliOptions) *cobra.Command {
	var withRetention bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every reconciliation sweep once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), opts, withRetention)
		},
	}
	cmd.Flags().BoolVar(&withRetention, "retention", true, "Also prune stale notifications and closed whiteboard rooms")
	return cmd
}

// prepare loads dotenv files and configuration, then configures logging.
func prepare(opts *cliOptions) (*app.Config, *zap.Logger, error) {
	if err := loadEnvFiles(opts.envFiles); err != nil {
		return nil, nil, err
	}

	cfg, err := loadApplicationConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.Server.ConfigureLogging(); err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Warn("generated runtime secret; configure it explicitly outside development", zap.String("key", key))
	}
	return cfg, log, nil
}

func runServe(ctx context.Context, opts *cliOptions) error {
	cfg, log, err := prepare(opts)
	if err != nil {
		return err
	}
	defer logger.Sync() // best effort

	stack, err := bootstrapRuntime(cfg, defaultProviders(), log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		stack.Shutdown(context.Background(), log)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	stack.Shutdown(shutdownCtx, log)
	if shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", shutdownErr)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func runMigrate(opts *cliOptions) error {
	cfg, log, err := prepare(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := initialiseDatabase(cfg, log)
	if err != nil {
		return err
	}
	closeDatabase(db, log)
	log.Info("database migrations applied", zap.String("driver", cfg.Database.Driver))
	return nil
}

func runSweep(ctx context.Context, opts *cliOptions, withRetention bool) error {
	cfg, log, err := prepare(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// One-shot run: nothing is scheduled.
	cfg.Scheduler.Enabled = false
	cfg.Retention.Enabled = false

	stack, err := bootstrapRuntime(cfg, defaultProviders(), log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	errs := newReconciler(stack, cfg).RunOnce(ctx)
	if withRetention {
		errs = multierr.Append(errs, newCleaner(stack, cfg).RunOnce(ctx))
	}
	if errs != nil {
		return fmt.Errorf("sweep: %w", errs)
	}
	log.Info("sweeps completed")
	return nil
}

// loadEnvFiles exports dotenv entries without overriding variables already set. With no
// explicit files a .env in the working directory is loaded when present.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(defaultEnvFile); err != nil {
			return nil
		}
		files = []string{defaultEnvFile}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
