// Package cmd defines the draftline command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "draftline",
	Short: "Draftline proposal coordination service",
	Long: `draftline coordinates autonomous agents that propose file changes
to a shared repository. Changes apply only after explicit approval, every
application is auditable, and each applied change can be rolled back once.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
}
