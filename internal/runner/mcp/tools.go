package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/retrocourt/retrocourt/internal/runner"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("get_case",
			mcplib.WithDescription("Fetch the case under review: its source, metadata, the agent output being judged, and any human feedback already attached."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleGetCase,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_case_events",
			mcplib.WithDescription("List the case's append-only event journal in chronological order: model calls, model results, errors, and prior stage artifacts."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleListCaseEvents,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("search_lessons",
			mcplib.WithDescription("Search previously ruled lessons (do/don't rules) scoped to a role, by semantic similarity to a query."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("role", mcplib.Description("Role to scope the search to (e.g. \"prosecutor\", \"defense\")"), mcplib.Required()),
			mcplib.WithString("query", mcplib.Description("Natural language description of the situation to find relevant lessons for"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum lessons to return"), mcplib.Min(1), mcplib.Max(20), mcplib.DefaultNumber(5)),
		),
		s.handleSearchLessons,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("submit_output",
			mcplib.WithDescription("Submit your final structured verdict for this stage. Call this exactly once, after you are done gathering context. The payload must match the stage's required schema."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
		),
		s.handleSubmit,
	)
}

func (s *Server) handleGetCase(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	c, err := s.tools.GetCase(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("get_case failed: %v", err)), nil
	}
	data, _ := json.MarshalIndent(c, "", "  ")
	return &mcplib.CallToolResult{Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}}}, nil
}

func (s *Server) handleListCaseEvents(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	events, err := s.tools.ListCaseEvents(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("list_case_events failed: %v", err)), nil
	}
	data, _ := json.MarshalIndent(events, "", "  ")
	return &mcplib.CallToolResult{Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}}}, nil
}

func (s *Server) handleSearchLessons(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	role := request.GetString("role", "")
	query := request.GetString("query", "")
	if role == "" || query == "" {
		return errorResult("role and query are required"), nil
	}
	limit := request.GetInt("limit", 5)

	lessons, err := s.tools.SearchLessons(ctx, role, query, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("search_lessons failed: %v", err)), nil
	}
	data, _ := json.MarshalIndent(lessons, "", "  ")
	return &mcplib.CallToolResult{Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}}}, nil
}

func (s *Server) handleSubmit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return errorResult(fmt.Sprintf("submit_output: failed to encode payload: %v", err)), nil
	}
	if err := runner.ValidateStage(s.stage, raw); err != nil {
		return errorResult(fmt.Sprintf("submit_output: %v", err)), nil
	}

	s.mu.Lock()
	alreadySubmitted := s.result != nil
	if !alreadySubmitted {
		s.result = raw
	}
	s.mu.Unlock()

	if alreadySubmitted {
		return errorResult("submit_output was already called for this invocation"), nil
	}
	close(s.resultCh)

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: "output recorded"}},
	}, nil
}
