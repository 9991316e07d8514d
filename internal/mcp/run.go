package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/retailnext/exec-action/internal/runner"
	"github.com/retailnext/exec-action/internal/workflow"
)

// inlineLines is how many trailing output lines exec_run returns inline.
const inlineLines = 40

type runParams struct {
	Command          string `json:"command" jsonschema:"the command line to run, e.g. go test ./..."`
	SuccessExitCodes string `json:"success_exit_codes,omitempty" jsonschema:"exit codes counted as success, e.g. 0,2-4 (default 0)"`
	SeparateOutputs  bool   `json:"separate_outputs,omitempty" jsonschema:"capture stdout and stderr separately instead of merged"`
	WorkingDirectory string `json:"working_directory,omitempty" jsonschema:"directory relative to the workspace (default: workspace root)"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Command) == "" {
		return errorResult("command is required")
	}

	mode := runner.Combined
	if params.SeparateOutputs {
		mode = runner.Separate
	}

	h.mu.RLock()
	out, err := h.engine.Execute(ctx, workflow.Request{
		Command:          params.Command,
		SuccessExitCodes: params.SuccessExitCodes,
		Mode:             mode,
		Dir:              params.WorkingDirectory,
	})
	h.mu.RUnlock()
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to run command: %v", err))
	}

	return textResult(formatRun(out, h.store != nil))
}

func formatRun(out *workflow.Outcome, stored bool) string {
	res := out.Result
	var b strings.Builder

	verdict := "accepted"
	if !out.Accepted {
		verdict = "rejected"
	}
	fmt.Fprintf(&b, "Run: %s\n", res.RunID)
	fmt.Fprintf(&b, "Exit code: %d (%s by policy %s)\n", res.ExitCode, verdict, out.Policy.String())
	if res.Signal != "" {
		fmt.Fprintf(&b, "Terminated by: %s\n", res.Signal)
	}
	fmt.Fprintf(&b, "Duration: %s\n", res.Duration.Round(time.Millisecond))
	if res.Truncated {
		fmt.Fprintln(&b, "Output was truncated at the configured max_output.")
	}

	if res.Mode == runner.Separate {
		writeStream(&b, "stdout", res.Stdout, stored)
		writeStream(&b, "stderr", res.Stderr, stored)
	} else {
		writeStream(&b, "combined output", res.Combined, stored)
	}
	return b.String()
}

func writeStream(b *strings.Builder, name, text string, stored bool) {
	fmt.Fprintln(b)
	text = strings.TrimRight(text, "\n")
	if text == "" {
		fmt.Fprintf(b, "%s: (empty)\n", name)
		return
	}

	lines := strings.Split(text, "\n")
	if len(lines) > inlineLines {
		hidden := len(lines) - inlineLines
		lines = lines[hidden:]
		if stored {
			fmt.Fprintf(b, "%s (last %d lines, %d more via exec_inspect):\n", name, inlineLines, hidden)
		} else {
			fmt.Fprintf(b, "%s (last %d lines):\n", name, inlineLines)
		}
	} else {
		fmt.Fprintf(b, "%s:\n", name)
	}
	for _, line := range lines {
		fmt.Fprintf(b, "    %s\n", line)
	}
}
