// Package main provides the CLI entry point for the telephone receptionist.
//
// # Basic Usage
//
// Answer calls over the websocket transport:
//
//	receptionist serve --config receptionist.yaml
//
// Talk to the receptionist from a terminal, typing what the caller says:
//
//	receptionist chat --config receptionist.yaml
//
// # Environment Variables
//
//   - UKETSUKE_CONFIG: Path to configuration file
//   - UKETSUKE_<SECTION>_<KEY>: Override any configured key (e.g. UKETSUKE_LOG_LEVEL)
//   - Any ${VAR} referenced from the YAML file, typically provider API keys
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/uketsuke/pkg/runner"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	runner.Version = version
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "receptionist",
		Short: "AI telephone receptionist",
		Long: `An AI receptionist that answers calls on behalf of a company.

Each caller utterance is transcribed, repaired against the conversation so far,
answered by a language model following the reception script, and spoken back
(or shown as text).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
