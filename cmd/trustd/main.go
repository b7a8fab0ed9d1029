// Package main implements the trustd daemon: the trust kernel with its
// HTTP API, plus offline ledger maintenance commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trustd/internal/audit"
	"github.com/fyrsmithlabs/trustd/internal/config"
	"github.com/fyrsmithlabs/trustd/internal/httpapi"
	"github.com/fyrsmithlabs/trustd/internal/kernel"
	"github.com/fyrsmithlabs/trustd/internal/logging"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trustd",
	Short: "Trust kernel daemon for autonomous agent platforms",
	Long: `trustd runs the trust kernel: content sanitization, hash-chained
audit logging, provenance-tracked memory, governance review, and component
health monitoring, exposed over an HTTP API.`,
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trust kernel and HTTP API",
	Long: `Start the trust kernel and serve its HTTP API until interrupted.

Examples:
  # Start with defaults
  trustd serve

  # Start with a config file
  trustd serve --config /etc/trustd/config.yaml

  # Override via environment
  TRUSTD_SERVER_PORT=8080 trustd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	k, err := kernel.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build kernel: %w", err)
	}
	if err := k.Start(); err != nil {
		return fmt.Errorf("start kernel: %w", err)
	}

	server, err := httpapi.NewServer(k, logger.Named("http"), &httpapi.Config{
		Host: "localhost",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := k.Shutdown(ctx); err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}
	return nil
}

var verifyCmd = &cobra.Command{
	Use:   "verify [ledger]",
	Short: "Verify the integrity of an audit ledger file",
	Long: `Verify that every event in a JSONL audit ledger chains to its
predecessor. Exits nonzero if the chain is broken.

Examples:
  # Verify the default ledger
  trustd verify audit.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	store, err := audit.NewFileStore(args[0])
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	events, err := store.Load()
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	result := audit.VerifyEvents(events)
	if !result.Valid {
		return fmt.Errorf("chain broken at index %d after %d valid events: %s",
			result.FailedIndex, result.Checked, result.Details)
	}

	cmd.Printf("ledger valid: %d events\n", result.Checked)
	return nil
}
