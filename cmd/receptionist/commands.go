package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that answers calls.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer calls over the configured transport",
		Long: `Start the receptionist with the configured transport and providers.

Graceful shutdown is handled on SIGINT/SIGTERM: new calls are refused, active
calls get the configured shutdown timeout to finish, the rest are closed.`,
		Example: `  # Start with a config file
  receptionist serve --config receptionist.yaml

  # Start with debug logging
  receptionist serve -c receptionist.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildChatCmd creates the "chat" command: a console conversation where each
// typed line stands in for one caller utterance.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the receptionist from the terminal",
		Long: `Run one call in the terminal. Each line typed is treated as a transcribed
caller utterance; replies are printed. Type "exit" or send EOF to hang up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), resolveConfigPath(configPath), debug, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "receptionist %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath prefers the flag, then UKETSUKE_CONFIG, then
// receptionist.yaml in the working directory when present.
func resolveConfigPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("UKETSUKE_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat("receptionist.yaml"); err == nil {
		return "receptionist.yaml"
	}
	return ""
}
