// Package cmd defines the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "neverland",
	Short: "Neverland - an AI companion that remembers",
	Long: `Neverland keeps the voice and memories of someone dear alive.

It retrieves shared memories from three collections (daily conversations,
letters, and keepsakes), composes them with a persona profile, and
generates replies in that person's manner, optionally with their voice.

Run "neverland serve" to start the HTTP API and the daily scheduler.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
