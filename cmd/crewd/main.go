// Crewd is the memory daemon for a fleet of agent workspaces.
//
// It indexes memory files into scoped vector collections and serves semantic
// search, indexing, and admin operations over HTTP.
//
// Usage:
//
//	# Start the daemon with defaults
//	crewd serve
//
//	# Start with an explicit config file
//	crewd serve --config ~/.config/crewd/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crewd",
	Short: "Memory daemon for agent workspace fleets",
	Long: `crewd indexes workspace, project, and fleet memory files into scoped
vector collections and serves semantic search over HTTP.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the crewd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crewd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
