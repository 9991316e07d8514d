package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/retailnext/exec-action/internal/report"
)

type inspectParams struct {
	RunID    string `json:"run_id" jsonschema:"the run ID from an exec_run result"`
	Stream   string `json:"stream,omitempty" jsonschema:"stdout, stderr or combined (default: the run's primary stream)"`
	Contains string `json:"contains,omitempty" jsonschema:"only lines containing this substring"`
	Tail     int    `json:"tail,omitempty" jsonschema:"only the last N matching lines"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	if h.store == nil {
		return errorResult("Run history is disabled (history.backend: none).")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	lines, err := report.Lines(result, params.Stream, params.Contains, params.Tail)
	if err != nil {
		return errorResult(err.Error())
	}

	stream := params.Stream
	if stream == "" {
		stream = report.StreamCombined
		if result.Mode == "separate" {
			stream = report.StreamStdout
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (exit code %d)\n", result.ID, result.ExitCode)
	fmt.Fprintf(&b, "Command: %s\n", result.Command)
	if len(lines) == 0 {
		if params.Contains != "" {
			fmt.Fprintf(&b, "No %s lines contain %q.\n", stream, params.Contains)
		} else {
			fmt.Fprintf(&b, "%s is empty.\n", stream)
		}
		return textResult(b.String())
	}

	fmt.Fprintf(&b, "%s (%d lines):\n", stream, len(lines))
	for _, line := range lines {
		fmt.Fprintf(&b, "    %s\n", line)
	}
	return textResult(b.String())
}

type historyParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs to list (default 10)"`
}

func (h *handler) historyHandler(ctx context.Context, req *mcp.CallToolRequest, params historyParams) (*mcp.CallToolResult, any, error) {
	lister, ok := h.store.(report.Lister)
	if !ok {
		return errorResult("Run history is disabled or cannot be listed.")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	runs, err := lister.Recent(limit)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list runs: %v", err))
	}
	if len(runs) == 0 {
		return textResult("No runs recorded yet.")
	}

	var b strings.Builder
	for _, r := range runs {
		verdict := "ok"
		if !r.Accepted {
			verdict = "FAIL"
		}
		fmt.Fprintf(&b, "%s  %s  exit %d %-4s  %s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.ExitCode, verdict, r.Command)
	}
	return textResult(b.String())
}
