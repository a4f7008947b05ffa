package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/dmypyls/cmd/dmypyls/commands"
	"github.com/teranos/dmypyls/logger"
)

var rootCmd = &cobra.Command{
	Use:   "dmypyls",
	Short: "dmypyls - language server backed by the mypy daemon",
	Long: `dmypyls - a language server that keeps a dmypy daemon running per workspace.

It starts dmypy when the editor opens a workspace, checks files as they are
saved, and answers go-to-definition with dmypy suggest --callsites.

Available commands:
  serve   - Start the language server (stdio, TCP or WebSocket)
  mcp     - Expose the same coordinator to agents over MCP
  doctor  - Check the dmypy installation and configuration
  config  - Show or create configuration files
  version - Show version information

Examples:
  dmypyls serve                  # for editor integration
  dmypyls doctor                 # why is nothing happening?
  dmypyls config show            # resolved configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Commands reinitialize once their configuration is loaded
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(logger.Options{JSON: jsonLogs, Verbosity: verbosity}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file to use instead of the user and project files")
	rootCmd.PersistentFlags().String("root", "", "Workspace root (defaults to the working directory)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.McpCmd)
	rootCmd.AddCommand(commands.DoctorCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
