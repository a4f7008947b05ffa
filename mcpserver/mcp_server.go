// Package mcpserver exposes the dmypy coordinator to agents over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/teranos/dmypyls/analysis"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/position"
	"github.com/teranos/dmypyls/version"
	"go.uber.org/zap"
)

// MCPServer wraps an analysis.Coordinator and exposes it via Model Context Protocol
type MCPServer struct {
	coordinator   *analysis.Coordinator
	workspaceRoot string
	server        *server.MCPServer
	logger        *zap.SugaredLogger
}

// NewMCPServer starts the worker for workspaceRoot and registers the tools.
func NewMCPServer(coordinator *analysis.Coordinator, workspaceRoot string, log *zap.SugaredLogger) (*MCPServer, error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve workspace root %s", workspaceRoot)
	}

	if err := coordinator.OnInitialize(root); err != nil {
		return nil, errors.Wrap(err, "failed to start dmypy")
	}

	s := &MCPServer{
		coordinator:   coordinator,
		workspaceRoot: root,
		logger:        log,
	}

	s.server = server.NewMCPServer(
		"dmypyls",
		version.Get().ServerVersion(),
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s, nil
}

// registerTools registers all MCP tools for dmypy operations
func (s *MCPServer) registerTools() {
	definitionTool := mcp.NewTool("dmypy_definition",
		mcp.WithDescription("Find where the Python symbol at a position is defined, using dmypy suggest --callsites"),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("File path relative to workspace root"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("Line number (zero-based)"),
		),
		mcp.WithNumber("character",
			mcp.Required(),
			mcp.Description("Character offset (zero-based)"),
		),
	)
	s.server.AddTool(definitionTool, s.handleDefinition)

	checkTool := mcp.NewTool("dmypy_check",
		mcp.WithDescription("Type-check a Python file with dmypy check; queued until the worker is ready"),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("File path relative to workspace root"),
		),
	)
	s.server.AddTool(checkTool, s.handleCheck)

	recheckTool := mcp.NewTool("dmypy_recheck",
		mcp.WithDescription("Re-check the workspace with dmypy recheck"),
	)
	s.server.AddTool(recheckTool, s.handleRecheck)

	healthTool := mcp.NewTool("dmypy_health",
		mcp.WithDescription("Report the dmypy worker state, version and queued checks as JSON"),
	)
	s.server.AddTool(healthTool, s.handleHealth)
}

// handleDefinition handles dmypy_definition tool calls
func (s *MCPServer) handleDefinition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := request.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	line, err := request.RequireInt("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	character, err := request.RequireInt("character")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pos := position.Position{Line: int(line), Character: int(character)}
	loc, err := s.coordinator.OnDefinitionRequested(ctx, s.resolve(file), pos)
	if err != nil {
		if errors.IsWorkerNotReady(err) {
			return mcp.NewToolResultError("dmypy is still starting, try again shortly"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get definition: %v", err)), nil
	}

	if loc == nil {
		return mcp.NewToolResultText("No definition found"), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%s:%d:%d",
		s.relative(position.URIToPath(loc.URI)),
		loc.Range.Start.Line,
		loc.Range.Start.Character,
	)), nil
}

// handleCheck handles dmypy_check tool calls
func (s *MCPServer) handleCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file, err := request.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.coordinator.Check(s.resolve(file)) {
		return mcp.NewToolResultText(fmt.Sprintf("%s queued, dmypy is still starting", file)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s sent to dmypy check", file)), nil
}

// handleRecheck handles dmypy_recheck tool calls
func (s *MCPServer) handleRecheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.coordinator.Recheck(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to recheck: %v", err)), nil
	}
	return mcp.NewToolResultText("recheck sent to dmypy"), nil
}

// handleHealth handles dmypy_health tool calls
func (s *MCPServer) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(s.coordinator.Health(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode health: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// resolve makes file absolute against the workspace root
func (s *MCPServer) resolve(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(s.workspaceRoot, file)
}

// relative converts an absolute path to one relative to the workspace root
// when it lies inside it
func (s *MCPServer) relative(path string) string {
	rel, err := filepath.Rel(s.workspaceRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// Serve starts the MCP server using stdio transport
func (s *MCPServer) Serve() error {
	s.logger.Infow("serving MCP on stdio", "root", s.workspaceRoot)
	return server.ServeStdio(s.server)
}

// Close stops the dmypy worker
func (s *MCPServer) Close() error {
	s.coordinator.OnShutdown()
	return nil
}
