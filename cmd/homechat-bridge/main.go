// Package main provides the CLI entry point for the HomeChat bridge.
//
// The bridge connects a home automation hub to a HomeChat messaging
// server: it relays outbound messages and notifications over the
// server's REST API, receives inbound messages on a signed webhook,
// and keeps a periodically refreshed snapshot of the server's channels.
//
// # Basic Usage
//
// Start the bridge:
//
//	homechat-bridge serve --config bridge.yaml
//
// Check the configured server:
//
//	homechat-bridge status
//
// Print the configuration JSON Schema:
//
//	homechat-bridge schema
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "homechat-bridge",
		Short: "HomeChat bridge - two-way home automation chat relay",
		Long: `The HomeChat bridge relays messages between a home automation hub
and a HomeChat messaging server.

Outbound: named operations (send_message, send_notification, send_dm, ...)
validated against JSON Schemas and delivered over the server's REST API.
Inbound: HMAC-signed webhooks republished as named events on an SSE stream.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildSchemaCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
