// Package main is the CLI entry point for the Crosswire communication
// gateway.
//
// Crosswire federates messaging platforms (WhatsApp, Telegram, Slack,
// Discord, Email, SMS) into one message pipeline with sessions,
// middleware, and signed webhooks.
//
// Start the server:
//
//	crosswire serve --config crosswire.yaml
//
// Validate a configuration file:
//
//	crosswire config validate --config crosswire.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "crosswire",
		Short:        "Crosswire - multi-channel communication gateway",
		Long:         "Crosswire routes messages between chat platforms and a backend\nthrough a middleware pipeline with per-channel security policies.\n\nSupported channels: WhatsApp (Twilio), Telegram, Slack, Discord, Email, SMS (Twilio)",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
