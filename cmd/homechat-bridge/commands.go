// commands.go contains the cobra command definitions and their flag
// configurations. Each command builder wires a command to its handler
// in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "bridge.yaml"

// buildServeCmd creates the "serve" command that runs the bridge.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HomeChat bridge",
		Long: `Run the HomeChat bridge.

The bridge will:
1. Load configuration from the specified file
2. Validate the connection profile against the HomeChat server
3. Provision the bot account once, if configured and not yet created
4. Start the periodic channel poll
5. Start the HTTP server (webhook, services, conversation, status, metrics)

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  homechat-bridge serve

  # Start with custom config
  homechat-bridge serve --config /etc/homechat/bridge.yaml

  # Start with debug logging
  homechat-bridge serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildStatusCmd creates the "status" command that probes the server.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe the configured HomeChat server",
		Long: `Validate the connection profile and print what the server reports:
reachability, authentication, service name, version and channel count.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to YAML configuration file")

	return cmd
}

// buildSchemaCmd creates the "schema" command that prints the config
// JSON Schema for editor integration.
func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.OutOrStdout())
		},
	}
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("homechat-bridge %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
