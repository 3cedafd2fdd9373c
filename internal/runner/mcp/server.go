// Package mcp exposes the runner.Tools capability surface as an MCP tool
// server, and implements an MCP-backed runner.Runner that drives an
// external agent process against it.
//
// Unlike a typical MCP integration where the tool server just answers
// queries, a stage invocation here also needs the external agent's final
// structured verdict back. That is modeled as one more tool — submit_output —
// which the agent must call exactly once to hand back its Output.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/retrocourt/retrocourt/internal/model"
	"github.com/retrocourt/retrocourt/internal/runner"
)

// Server wraps one stage invocation's tool surface: the three read-only
// Tools plus a submit_output tool that ends the invocation.
type Server struct {
	mcpServer *mcpserver.MCPServer
	tools     runner.Tools
	stage     model.Stage
	logger    *slog.Logger

	mu       sync.Mutex
	result   json.RawMessage
	resultCh chan struct{}
}

// NewServer builds a per-invocation MCP server bound to tools for the given
// stage. Each stage invocation gets its own Server so submit results never
// cross between concurrent fan-out calls.
func NewServer(stage model.Stage, tools runner.Tools, logger *slog.Logger) *Server {
	s := &Server{
		tools:    tools,
		stage:    stage,
		logger:   logger,
		resultCh: make(chan struct{}),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"retrocourt-runner",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(instructionsFor(stage)),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport mounting.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Await blocks until the agent calls submit_output, or ctx is cancelled.
func (s *Server) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-s.resultCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func instructionsFor(stage model.Stage) string {
	return fmt.Sprintf(`You are acting as the %s in a retrospective court reviewing one agent decision.

Use get_case, list_case_events, and search_lessons to gather context, then
call submit_output exactly once with your structured verdict. submit_output
is the only way to end this invocation — nothing you say outside a tool
call is read.`, stage)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
