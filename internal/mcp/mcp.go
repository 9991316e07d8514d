// Package mcp provides the exec-action MCP server, registering the command
// tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	execaction "github.com/retailnext/exec-action"
	"github.com/retailnext/exec-action/internal/config"
	"github.com/retailnext/exec-action/internal/report"
	"github.com/retailnext/exec-action/internal/runner"
	"github.com/retailnext/exec-action/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu         sync.RWMutex // guards workspace changes against running tools
	engine     *workflow.Engine
	runner     *runner.Runner
	store      report.Store // nil when history is disabled
	configPath string
}

// NewServer creates an MCP server with all exec-action tools registered.
//
// Stdio is the protocol channel, so the runner must not inherit stdin or
// mirror to stdout. A nil r.Stdin is replaced with one that is always at EOF.
func NewServer(r *runner.Runner, store report.Store, configPath string, logger *slog.Logger) *mcp.Server {
	if r.Stdin == nil {
		r.Stdin = emptyStdin{}
	}
	h := &handler{
		engine:     &workflow.Engine{Runner: r, Store: store, Logger: logger},
		runner:     r,
		store:      store,
		configPath: configPath,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "exec-action", Version: execaction.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "exec_workspace",
		Description: "Show the workspace commands run in, and the effective capture and history settings.",
	}, h.workspaceHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "exec_run",
		Description: `Run one command line directly (no shell) and judge its exit code.

The command is split on whitespace with single/double quotes and backslash escapes; pipes,
redirects and variables are NOT interpreted. Wrap in sh -c "..." when a shell is needed.
Output is captured merged (default) or as separate stdout/stderr. Results are stored for
drill-down via exec_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "exec_inspect",
		Description: `Drill into the captured output of an exec_run result.

Select a stream (stdout, stderr or combined; default is the run's primary stream), filter
lines by substring and keep only the last N.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "exec_history",
		Description: "List recent exec_run results, newest first.",
	}, h.historyHandler)

	return s
}

// updateWorkspaceFromRoots queries the client for MCP roots and moves the
// runner to the first file root, reloading its config.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	workspace := u.Path

	loaded, err := config.Load(workspace)
	if err != nil {
		return
	}
	sigs, err := loaded.Config.Signals()
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.runner.Workspace = workspace
	h.runner.MaxOutput = loaded.Config.MaxOutputBytes()
	h.runner.DrainTimeout = loaded.Config.DrainTimeout()
	h.runner.Signals = sigs
	h.configPath = loaded.Path
}

type emptyStdin struct{}

func (emptyStdin) Read([]byte) (int, error) { return 0, io.EOF }

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
