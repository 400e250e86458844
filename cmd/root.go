// Package cmd implements the conductor command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// configPath points at the host configuration file. Shared by all commands.
var configPath string

// rootCmd represents the base command for the conductor application.
var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Host and orchestrate MCP capability servers",
	Long: `conductor supervises a set of MCP capability servers, aggregates the
tools, prompts and resources they offer into routed registries, and drives
bounded model conversations against them.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "conductor version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "conductor.yaml", "Path to the host configuration file")
}
