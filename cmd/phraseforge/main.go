// Package main provides the phraseforge binary entry point.
// Phraseforge turns uploaded PDF documents into normalized French
// sentences through chunked LLM extraction, with durable job state on
// NATS JetStream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/c360studio/phraseforge/llm/providers"

	"github.com/spf13/cobra"

	"github.com/c360studio/phraseforge/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "phraseforge"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "phraseforge",
		Short: "PDF-to-sentence extraction service",
		Long: `Phraseforge ingests PDF documents, splits them into page-range
chunks, extracts normalized French sentences through a tiered LLM
cascade, and serves the results over an HTTP/JSON API with websocket
progress push.

Job and chunk state is durable on NATS JetStream KV; when no external
NATS URL is configured an embedded server is started in-process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration: an explicit --config file overlays the
	// defaults; otherwise the layered loader discovers user and
	// project config plus environment overrides.
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		loaded, err := config.NewLoader(logger).Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app := NewApp(cfg, logger)

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}

	logger.Info("Phraseforge ready",
		"version", Version,
		"addr", cfg.Server.Addr)

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	app.Shutdown(30 * time.Second)
	return nil
}
