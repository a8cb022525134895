package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hotswap/internal/build"
	"hotswap/internal/config"
	"hotswap/internal/history"
	"hotswap/internal/lifecycle"
	"hotswap/internal/monitor"
	"hotswap/internal/notify"
	"hotswap/internal/runner"
	"hotswap/internal/security"
	"hotswap/internal/server"
	"hotswap/internal/upgrade"
	"hotswap/pkg/fileutil"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configFile string
	logFile    string
	host       string
	port       int
	verbose    bool
	testMode   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the site and serve it",
	Long: `Build the site once and serve it on a single port.

Push webhooks (production mode), /command and /restart trigger an upgrade:
pull, swap to the maintenance page, rebuild, swap back.`,
	RunE: runServe,
}

func init() {
	// Flags for serve command
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to hotswap.yaml (default: $HOTSWAP_CONFIG or search paths)")
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("HOTSWAP_LOG_FILE", "./hotswap.log"), "Path to log file")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("HOST", "0.0.0.0"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("PORT", 3000), "Port to listen on")
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log phase transitions and debug output")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("HOTSWAP_DISABLE_RATE_LIMIT") == "1", "Disable rate limiting")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Determine config file path
	path, err := config.Find(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
		for _, p := range fileutil.DefaultConfigPaths(config.FileName) {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
		fmt.Fprintf(os.Stderr, "Use --config flag or %s to specify a custom location\n", config.EnvConfig)
		return fmt.Errorf("configuration file not found")
	}

	// Set up logging
	logger, logFileHandle, err := setupLogging(logFile, verbose)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting hotswap", "version", version)

	// Load configuration
	logger.Info("Loading configuration", "config", path)
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration warning", "warning", w)
	}
	logger.Info("Configuration validated successfully",
		"mode", cfg.Mode,
		"workdir", cfg.Workdir,
		"branch", cfg.Branch,
		"pull", len(cfg.Pull),
		"build", len(cfg.Build.Commands),
	)

	hist, err := history.NewHistory(cfg.HistorySize)
	if err != nil {
		return fmt.Errorf("failed to create cycle history: %w", err)
	}

	notifier, err := notify.New(cfg.GitHub, logger)
	if err != nil {
		return fmt.Errorf("failed to create status notifier: %w", err)
	}

	metrics := monitor.NewMetrics()
	roles := []string{lifecycle.RoleNone.String(), lifecycle.RoleActive.String(), lifecycle.RolePlaceholder.String()}
	metrics.SetRole(lifecycle.RoleNone.String(), roles)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	mgr := lifecycle.NewManager(addr, logger)
	mgr.OnRoleChange = func(r lifecycle.Role) {
		metrics.SetRole(r.String(), roles)
	}

	orchestrator := build.New(path, logger)
	orchestrator.Inherit = true

	fetcher := runner.New(cfg.Workdir, logger)
	fetcher.Redact = cfg.Secrets()
	fetcher.Inherit = true

	stopTimeout := time.Duration(cfg.StopTimeout) * time.Second
	coord := upgrade.New(upgrade.Options{
		Mode:        cfg.Mode,
		PullTimeout: time.Duration(cfg.PullTimeout) * time.Second,
		StopTimeout: stopTimeout,
		History:     hist,
		Metrics:     metrics,
		Notifier:    notifier,
		Logger:      logger,
	}, fetcher, orchestrator, mgr)

	srv := server.NewServer(cfg, coord, mgr, logger, testMode)
	srv.History = hist
	srv.Metrics = metrics

	placeholder, err := srv.PlaceholderRouter()
	if err != nil {
		return err
	}
	mgr.SetHandlers(srv.ActiveRouter(), placeholder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := coord.Bootstrap(gctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("Initial build failed", "error", err)
			return err
		}
		logger.Info("Serving", "addr", mgr.Addr(), "mode", cfg.Mode)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down, waiting for the upgrade in flight")
		coord.Drain()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := mgr.Close(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", "error", err)
			return err
		}
		logger.Info("Stopped")
		return nil
	})

	return g.Wait()
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string, verbose bool) (*slog.Logger, *os.File, error) {
	// Open log file with secure permissions
	file, err := security.OpenSecureLog(logPath)
	if err != nil {
		return nil, nil, err
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), file, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
