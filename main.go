package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/probekit/mailprobe/config"
	"github.com/probekit/mailprobe/imap"
	"github.com/probekit/mailprobe/report"
	"github.com/probekit/mailprobe/runner"
	"github.com/probekit/mailprobe/smtp"
	"github.com/probekit/mailprobe/stats"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	exitCode := exitOK

	rootCmd := &cobra.Command{
		Use:          "mailprobe",
		Short:        "Verify end-to-end mail delivery by sending and retrieving probe messages",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				exitCode = exitConfig
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				exitCode = exitConfig
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mailprobe", "config", cfg.Path, "accounts", len(cfg.Accounts))

			r := runner.New(logger, smtp.NewSender(logger), imap.NewDialer(logger), report.NewClient(logger))
			stats.NewReporter(r, logger)

			for _, outcome := range r.Run(cfg.Accounts) {
				if !outcome.Success {
					exitCode = exitFailed
				}
			}
			return nil
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		return exitConfig
	}
	rootCmd.AddCommand(newCheckConfigCmd())
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if exitCode == exitOK {
			exitCode = exitConfig
		}
	}
	return exitCode
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mailprobe-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
