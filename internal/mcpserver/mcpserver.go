// Package mcpserver serves the sandboxed tool registry over the Model
// Context Protocol, so any MCP client can act as the decision oracle. Calls
// go through the same Dispatcher as the agent loop: same root injection,
// same containment checks.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/kazi/internal/tools"
)

const instructions = "Sandboxed file and code tools. All paths are relative to the server's working directory; the directory itself cannot be chosen by the client."

// New builds an MCP server exposing every tool of d.
func New(d tools.Dispatcher, version string, logger *slog.Logger) (*server.MCPServer, error) {
	s := server.NewMCPServer("kazi", version,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	)

	for _, def := range d.Definitions() {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshaling schema of %s: %w", def.Name, err)
		}
		s.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, schema), handler(d, def.Name, logger))
	}
	return s, nil
}

// Serve runs s on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func handler(d tools.Dispatcher, name string, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := tools.Call{
			ID:   uuid.NewString(),
			Name: name,
			Args: req.GetArguments(),
		}
		ctx = tools.ContextWithCorrelationID(ctx, call.ID)

		logger.InfoContext(ctx, "mcp tool call",
			slog.String("tool", name),
			slog.String("call_id", call.ID),
		)

		res, err := d.Dispatch(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("dispatching %s: %w", name, err)
		}
		if res.IsError() {
			return mcp.NewToolResultError(res.Output), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}
