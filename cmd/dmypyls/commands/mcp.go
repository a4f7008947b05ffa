package commands

import (
	"github.com/spf13/cobra"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/mcpserver"
	"github.com/teranos/dmypyls/server"
)

// McpCmd serves the dmypy tools over the Model Context Protocol
var McpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve dmypy definition and check tools over MCP (stdio)",
	Long: `Start dmypy for a workspace and expose it to agents as MCP tools:
dmypy_definition, dmypy_check, dmypy_recheck and dmypy_health.

Examples:
  dmypyls mcp --root ~/src/project`,
	RunE: runMcp,
}

func init() {
	McpCmd.Flags().String("dmypy", "", "dmypy client command, e.g. \"python -m mypy.dmypy\"")
}

func runMcp(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Nothing is forwarded to an editor here, stdout belongs to MCP
	cfg.Log.ForwardToClient = false
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Cleanup()

	log := logger.Logger.Named("mcp")
	srv, err := server.New(server.Options{Config: cfg, Logger: log})
	if err != nil {
		return err
	}

	coordinator, release, err := srv.NewCoordinator("mcp", log)
	if err != nil {
		return err
	}
	defer release()

	mcpServer, err := mcpserver.NewMCPServer(coordinator, projectDir(cmd), log)
	if err != nil {
		return err
	}
	defer mcpServer.Close()

	return mcpServer.Serve()
}
