// Package cmd wires the command-line interface.
package cmd

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/koopa0/relay/internal/log"
)

var (
	flagVerbose  bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - an LLM chat agent over HTTP",
	Long: `Relay serves a conversational LLM agent over HTTP.

Each turn is routed (general, retrieval-augmented, or tool-using),
executed through an orchestration loop with concurrent tool dispatch,
and streamed to the client as Server-Sent Events. Conversations persist
in PostgreSQL; the knowledge base uses pgvector similarity search.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		// A missing .env file is not an error; env vars may be set directly.
		_ = godotenv.Load()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLogs})
}
