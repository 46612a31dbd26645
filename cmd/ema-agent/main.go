// Command ema-agent serves a voice agent over websocket connections.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-graph/cmd/ema-agent"

var (
	profilePath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "ema-agent",
	Short: "Event driven voice agent",
	Long: `ema-agent runs a voice agent built from nodes that react to conversation
events. Each websocket connection is one call with its own conversation
context.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "Path to the agent profile YAML (default: $EMA_PROFILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a logger writing through the installed log provider.
func newLogger() *slog.Logger {
	return otelslog.NewLogger(scopeName)
}
