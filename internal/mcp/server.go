// Package mcp exposes the console to MCP clients: running code, reading
// output and context, proposing edits, and browsing run history.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/pyconsole/internal/console"
	"github.com/joescharf/pyconsole/internal/executor"
	"github.com/joescharf/pyconsole/internal/models"
	"github.com/joescharf/pyconsole/internal/prompt"
	"github.com/joescharf/pyconsole/internal/store"
)

// Server wraps the console and exposes it as MCP tools.
type Server struct {
	session *console.Session
	exec    *executor.Client
	store   store.Store
}

// NewServer creates the MCP server wrapper. The store may be nil when no
// history database is configured; history tools then report an error.
func NewServer(session *console.Session, exec *executor.Client, s store.Store) *Server {
	return &Server{
		session: session,
		exec:    exec,
		store:   s,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("pyconsole", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.runCodeTool())
	srv.AddTool(s.getContextTool())
	srv.AddTool(s.readOutputTool())
	srv.AddTool(s.proposeEditTool())
	srv.AddTool(s.resetTool())
	srv.AddTool(s.historyTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// console_run_code
func (s *Server) runCodeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("console_run_code",
		mcp.WithDescription("Run Python code on the connected execution session. Omit 'code' to run the current buffer. Returns stdout, stderr, the evaluated result, and any execution error."),
		mcp.WithString("code", mcp.Description("Code to load into the buffer and run; defaults to the current buffer")),
	)
	return tool, s.handleRunCode
}

func (s *Server) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if code := request.GetString("code", ""); code != "" {
		s.session.SetCode(code)
	}
	if s.session.IsRunning() {
		return mcp.NewToolResultError("an execution is already in flight"), nil
	}

	start := time.Now()
	resp, err := s.exec.Execute(ctx, s.session)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		s.recordRun(ctx, &models.Run{
			Code:       s.session.Code(),
			Status:     models.RunStatusFailed,
			DurationMs: duration,
		})
		return mcp.NewToolResultError(fmt.Sprintf("execution service call failed: %v", err)), nil
	}

	run := &models.Run{
		Code:           s.session.Code(),
		Stdout:         resp.Stdout,
		Stderr:         resp.Stderr,
		ExecutionError: resp.ExecutionError,
		Status:         models.RunStatusOK,
		DurationMs:     duration,
	}
	if resp.Result != nil {
		run.Result = fmt.Sprintf("%v", resp.Result)
	}
	if resp.ExecutionError != "" {
		run.Status = models.RunStatusError
		if structured := s.session.LastStructuredError(); structured != nil {
			run.ErrorType = structured.ErrorType
			run.ErrorMessage = structured.ErrorMessage
		}
	}
	s.recordRun(ctx, run)

	out := map[string]any{
		"stdout":      resp.Stdout,
		"stderr":      resp.Stderr,
		"status":      run.Status,
		"duration_ms": duration,
	}
	if run.Result != "" {
		out["result"] = run.Result
	}
	if resp.ExecutionError != "" {
		out["execution_error"] = resp.ExecutionError
		if run.ErrorType != "" {
			out["error_type"] = run.ErrorType
			out["error_message"] = run.ErrorMessage
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) recordRun(ctx context.Context, run *models.Run) {
	if s.store == nil {
		return
	}
	// History is best effort; a storage failure never fails the run.
	_ = s.store.CreateRun(ctx, run)
}

// console_get_context
func (s *Server) getContextTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("console_get_context",
		mcp.WithDescription("Get the formatted console context: current code, cursor, execution status, traceback analysis, and recent output."),
		mcp.WithBoolean("full_output", mcp.Description("Include the complete output history instead of only recent lines")),
	)
	return tool, s.handleGetContext
}

func (s *Server) handleGetContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := prompt.DefaultOptions()
	if request.GetBool("full_output", false) {
		opts.IncludeFullOutput = true
	}
	consoleCtx := prompt.BuildContext(s.session, opts)
	return mcp.NewToolResultText(prompt.FormatForAssistant(consoleCtx, opts)), nil
}

// console_read_output
func (s *Server) readOutputTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("console_read_output",
		mcp.WithDescription("Read console output lines. Returns the most recent lines by default."),
		mcp.WithNumber("lines", mcp.Description("Number of trailing lines to return; 0 returns everything")),
	)
	return tool, s.handleReadOutput
}

func (s *Server) handleReadOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := request.GetInt("lines", 0)
	lines := s.session.OutputLines()
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	data, err := json.Marshal(map[string]any{"lines": lines})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal output: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// console_propose_edit
func (s *Server) proposeEditTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("console_propose_edit",
		mcp.WithDescription("Propose an edit to the console buffer. REPLACE_BLOCK replaces an inclusive 1-based line range; REPLACE_ENTIRE_SCRIPT swaps the whole buffer. The edit is queued for the editor to pick up, not applied directly."),
		mcp.WithString("edit_type", mcp.Required(), mcp.Description("REPLACE_BLOCK or REPLACE_ENTIRE_SCRIPT")),
		mcp.WithString("code", mcp.Required(), mcp.Description("Replacement text")),
		mcp.WithNumber("start_line", mcp.Description("First line to replace (REPLACE_BLOCK only)")),
		mcp.WithNumber("end_line", mcp.Description("Last line to replace, inclusive (REPLACE_BLOCK only)")),
	)
	return tool, s.handleProposeEdit
}

func (s *Server) handleProposeEdit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	editType, err := request.RequireString("edit_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	et := console.EditType(editType)
	action := console.EditAction{Type: et, Code: code}
	switch et {
	case console.EditReplaceBlock:
		action.StartLine = request.GetInt("start_line", 0)
		action.EndLine = request.GetInt("end_line", 0)
		if action.StartLine < 1 || action.EndLine < action.StartLine {
			return mcp.NewToolResultError(fmt.Sprintf("invalid line range %d-%d", action.StartLine, action.EndLine)), nil
		}
	case console.EditReplaceEntireScript:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown edit_type %q", editType)), nil
	}

	id := s.session.DispatchEdit(action)
	data, err := json.Marshal(map[string]string{"dispatchId": id})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// console_reset
func (s *Server) resetTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("console_reset",
		mcp.WithDescription("Reset the console: restore the default buffer, clear output, errors, and any pending edit."),
	)
	return tool, s.handleReset
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.session.Reset()
	return mcp.NewToolResultText("console reset"), nil
}

// console_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("console_history",
		mcp.WithDescription("List recent runs with status, error type, and duration. Most recent first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 10)")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is not configured"), nil
	}
	limit := request.GetInt("limit", 10)
	if limit < 1 {
		limit = 10
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	type runOut struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		ErrorType  string `json:"error_type,omitempty"`
		DurationMs int64  `json:"duration_ms"`
		CreatedAt  string `json:"created_at"`
	}
	out := make([]runOut, len(runs))
	for i, r := range runs {
		out[i] = runOut{
			ID:         r.ID,
			Status:     string(r.Status),
			ErrorType:  r.ErrorType,
			DurationMs: r.DurationMs,
			CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
