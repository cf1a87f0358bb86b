package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:          "jobtracker",
	Short:        "Job dependency and status tracking for agency data submissions",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(createKeyCmd)
}
