package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/starcoach/internal/pipeline"
	"github.com/kalambet/starcoach/internal/progress"
	"github.com/kalambet/starcoach/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Analysis Analyzer
}

// NewMCPServer creates an MCP server with the starcoach tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"starcoach",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("starcoach analyses recorded answers to behavioural interview questions and returns STAR coaching feedback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_questions",
			mcp.WithDescription("List the interview questions with how many times each has been attempted."),
		),
		mcpListQuestions(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_analysis",
			mcp.WithDescription("Queue the analysis of a recorded attempt. Returns immediately; poll get_analysis_status for results."),
			mcp.WithNumber("attempt_id", mcp.Description("Attempt to analyze"), mcp.Required()),
		),
		mcpTriggerAnalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("get_analysis_status",
			mcp.WithDescription("Report an attempt's analysis status with its transcript, analytics and feedback when available."),
			mcp.WithNumber("attempt_id", mcp.Description("Attempt to inspect"), mcp.Required()),
		),
		mcpAnalysisStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("get_progress",
			mcp.WithDescription("Show per-attempt scores for a question and whether they are improving."),
			mcp.WithNumber("question_id", mcp.Description("Question to summarise"), mcp.Required()),
		),
		mcpProgress(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"starcoach://dashboard",
			"Practice Dashboard",
			mcp.WithResourceDescription("Practice totals, average scores and daily activity as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDashboard(deps),
	)

	return s
}

func mcpListQuestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		qs, err := deps.Store.ListQuestions()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list questions: %v", err)), nil
		}
		if qs == nil {
			qs = []storage.Question{}
		}
		return mcpJSON(qs)
	}
}

func mcpTriggerAnalysis(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("attempt_id", 0))
		if id <= 0 {
			return mcpError("attempt_id must be a positive integer"), nil
		}

		jobID, err := deps.Analysis.Trigger(ctx, id)
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			return mcpError(fmt.Sprintf("attempt %d not found", id)), nil
		case errors.Is(err, pipeline.ErrAlreadyAnalyzed):
			return mcpError(fmt.Sprintf("attempt %d has already been analyzed", id)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("failed to queue analysis: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Analysis of attempt %d queued (job %s)", id, jobID)), nil
	}
}

func mcpAnalysisStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("attempt_id", 0))
		if id <= 0 {
			return mcpError("attempt_id must be a positive integer"), nil
		}

		report, err := deps.Analysis.GetStatus(ctx, id)
		if errors.Is(err, pipeline.ErrNotFound) {
			return mcpError(fmt.Sprintf("attempt %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read status: %v", err)), nil
		}
		return mcpJSON(report)
	}
}

func mcpProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(req.GetInt("question_id", 0))
		q, err := deps.Store.GetQuestion(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("question %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load question: %v", err)), nil
		}
		points, err := deps.Store.ProgressPoints(q.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load progress: %v", err)), nil
		}
		return mcpJSON(progress.Build(q, points))
	}
}

func mcpResourceDashboard(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.Dashboard()
		if err != nil {
			return nil, fmt.Errorf("building dashboard: %w", err)
		}
		data, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("marshaling dashboard: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "starcoach://dashboard",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcpText(string(data)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
