// Package workflow runs one command request end to end: it parses the
// exit-code policy, executes the command, judges the exit code and records
// the run. It is consumed by the action harness, the CLI and the MCP server.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/retailnext/exec-action/internal/policy"
	"github.com/retailnext/exec-action/internal/report"
	"github.com/retailnext/exec-action/internal/runner"
)

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, command string, mode runner.Mode, cwd string) (*runner.Result, error)
}

// Engine holds shared dependencies for executing requests.
type Engine struct {
	Runner CommandRunner
	Store  report.Store // optional run history
	Logger *slog.Logger
}

// Request is one command to run and how to judge it.
type Request struct {
	Command          string
	SuccessExitCodes string // e.g. "0,2-4"; empty accepts only 0
	Mode             runner.Mode
	Dir              string // relative to the workspace
}

// Outcome is a settled run judged against its policy.
type Outcome struct {
	Result   *runner.Result
	Policy   policy.Set
	Accepted bool
	Record   *report.RunResult // stored record; nil without a store
}

// Execute runs req. The policy is parsed before anything is spawned, so a
// bad policy never runs the command. Errors are the engine's own failures;
// a rejected exit code is reported through Outcome.Accepted.
func (e *Engine) Execute(ctx context.Context, req Request) (*Outcome, error) {
	set, err := policy.Parse(req.SuccessExitCodes)
	if err != nil {
		return nil, err
	}

	res, err := e.Runner.Run(ctx, req.Command, req.Mode, req.Dir)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Result:   res,
		Policy:   set,
		Accepted: set.Contains(res.ExitCode),
	}
	e.logger().Debug("run judged",
		"run_id", res.RunID, "exit_code", res.ExitCode, "policy", set.String(), "accepted", out.Accepted)

	if e.Store != nil {
		rec := report.FromResult(req.Command, res, set.String(), out.Accepted)
		if err := e.Store.Save(rec); err != nil {
			e.logger().Warn("saving run history", "run_id", res.RunID, "error", err)
		} else {
			out.Record = rec
		}
	}
	return out, nil
}

// FailureMessage describes a rejected run: the exit code, any terminating
// signal and the captured diagnostic output. It is empty for accepted runs.
func (o *Outcome) FailureMessage() string {
	if o.Accepted {
		return ""
	}
	res := o.Result

	var b strings.Builder
	fmt.Fprintf(&b, "Command failed with exit code %d", res.ExitCode)
	if res.Signal != "" {
		fmt.Fprintf(&b, " (terminated by %s)", res.Signal)
	}
	if diag := strings.TrimRight(res.Diagnostics(), "\n"); diag != "" {
		fmt.Fprintf(&b, "\n%s", diag)
	}
	return b.String()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
