// Package cmd wires the steward commands: an interactive console session and
// the messaging webhook server, both running the same orchestration engine
// over one sqlite database.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for steward
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steward",
		Short: "LLM-driven personal task assistant",
		Long: `Steward plans and executes personal-assistant tasks through an LLM
decision loop over local todo, schedule, chat-history and internet-search
tools.

Run "steward chat" for an interactive console session, or "steward serve"
to bridge a messaging webhook to the same engine.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "steward.yaml", "config file path")

	cmd.AddCommand(NewChatCommand())
	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
