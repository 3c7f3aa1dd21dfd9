package cmd

import (
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the steward version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("steward %s\n", Version)
		},
	}
}
