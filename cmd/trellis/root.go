package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command for the trellis server binary.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trellis",
		Short: "Trellis plan-store server",
		Long: `Trellis manages a hierarchy of Projects, Epics, Features, and Tasks as
Markdown files with YAML front-matter. It exposes createObject, getObject,
updateObject, deleteObject, claimNextTask, completeTask,
getNextReviewableTask, listBacklog, and getCompletedObjects over a
line-delimited JSON stdio protocol.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "trellis.yaml",
		"config file (default is trellis.yaml)")

	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfigFile returns the path passed via --config.
func GetConfigFile() string {
	return cfgFile
}
