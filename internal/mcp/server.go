// Package mcp exposes the debate pipeline over the Model Context
// Protocol so agent hosts can submit tasks and query pattern memory.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	sophiaerrors "sophia/internal/errors"
	"sophia/internal/logging"
	"sophia/internal/pattern"
	"sophia/internal/swarm"
)

// Version is the MCP server version string reported to hosts.
const Version = "0.1.0"

// New builds the MCP server with the pipeline tools registered.
func New(service *swarm.Service, store pattern.Store, breakers *sophiaerrors.BreakerSet, logger logging.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"sophia",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Sophia runs engineering tasks through a debate pipeline: "+
			"a planner decomposes the goal, competing generators draft solutions, a critic scores them, "+
			"and a judge accepts, merges, rejects, or sends them back for revision. "+
			"Use run_task for a full pipeline run and query_patterns to look up strategies that worked before."),
	)

	runTool := NewRunTaskTool(service, breakers, logger)
	s.AddTool(runTool.Definition(), runTool.Handle)

	patternsTool := NewQueryPatternsTool(store, breakers, logger)
	s.AddTool(patternsTool.Definition(), patternsTool.Handle)

	return s
}

// ServeStdio runs the server over stdio until the host disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
