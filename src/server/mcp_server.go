// Package server contains the MCP server, the language server clients and
// the manager tying them together.
package server

import (
	"context"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"lsmcp/src/internal/common"
)

// MCPServer exposes the code intelligence tools over MCP stdio.
type MCPServer struct {
	manager   *Manager
	mcpServer *mcpserver.MCPServer
}

// NewMCPServer wires the tool set on top of a client manager.
func NewMCPServer(manager *Manager) *MCPServer {
	s := &MCPServer{
		manager: manager,
		mcpServer: mcpserver.NewMCPServer(
			"lsmcp",
			common.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	s.mcpServer.AddTools(
		s.gotoDefinitionTool(),
		s.findReferencesTool(),
		s.hoverTool(),
		s.documentSymbolsTool(),
		s.diagnosticsTool(),
		s.workspaceSymbolsTool(),
	)
}

// Run serves MCP over stdin/stdout until the host disconnects, then drains
// the language servers. Stdout carries only MCP frames; all logging goes to
// stderr.
func (s *MCPServer) Run() error {
	common.MCPLogger.Info("Serving MCP on stdio, workspace root %s", s.manager.WorkspaceRoot())
	err := mcpserver.ServeStdio(s.mcpServer)
	s.manager.Shutdown(context.Background())
	return err
}
