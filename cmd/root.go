package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the meetnotes application
var rootCmd = &cobra.Command{
	Use:   "meetnotes",
	Short: "Automated Google Meet notes bot",
	Long: `meetnotes joins Google Meet meetings with an automated browser,
captures the live captions into a searchable notes database, and
exposes control and search tools over the Model Context Protocol (MCP).

It can run as:
  - An MCP server over stdio for AI assistants (default)
  - A daemon that polls Google Calendar and joins approved meetings
  - A one-shot join of a single meeting URL`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "meetnotes version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newJoinCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newVersionCmd())
}
