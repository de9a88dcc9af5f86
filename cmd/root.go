package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the teamup-mcp application
var rootCmd = &cobra.Command{
	Use:   "teamup-mcp",
	Short: "MCP gateway for the TeamUp scheduling and CRM API",
	Long: `teamup-mcp exposes the TeamUp scheduling/CRM REST API (events, customers,
memberships, staff, venues, payments, ...) as MCP (Model Context Protocol)
tools for AI assistants.

It runs as:
  - A local MCP server over stdio (default)
  - A remote MCP server over SSE or streamable HTTP`,
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
	rootCmd.SetVersionTemplate(`{{printf "teamup-mcp version %s\n" .Version}}`)

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
	rootCmd.AddCommand(newVersionCmd())
}
