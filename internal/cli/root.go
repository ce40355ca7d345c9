// Package cli wires the ingestd commands.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "ingestd",
	Short: "NeuroStream ingestion service",
	Long:  "Real-time neural data ingestion: accepts multi-channel biosignal streams, validates and anonymizes them, and delivers them to the record bus and time-series store.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
