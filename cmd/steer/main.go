// Package main provides the CLI entry point for steer, an agent execution
// engine. It drives bounded agent sessions: the decision policy proposes
// actions, registered tools execute them, and every step lands in an
// append-only session history that can be saved and resumed.
//
// # Basic Usage
//
// Run a new session:
//
//	steer run --config steer.yaml "summarize the indexed documents"
//
// Resume a paused session with answers to its questions:
//
//	steer resume <session-id> --answer "staging" --answer "v2"
//
// Inspect saved sessions:
//
//	steer sessions list
//	steer sessions show <session-id>
//
// # Environment Variables
//
//   - STEER_CONFIG: Path to configuration file (default: steer.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key (referenced from the config)
//   - OPENAI_API_KEY: OpenAI API key (referenced from the config)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
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
		Use:   "steer",
		Short: "steer - agent execution engine",
		Long: `Steer runs bounded agent sessions: a decision policy proposes actions,
registered tools execute them, and every step is recorded in an
append-only history that can be paused, saved, and resumed.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildSessionsCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if env := os.Getenv("STEER_CONFIG"); env != "" {
		return env
	}
	return "steer.yaml"
}
