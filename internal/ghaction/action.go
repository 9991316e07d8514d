package ghaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/retailnext/exec-action/internal/config"
	"github.com/retailnext/exec-action/internal/runner"
	"github.com/retailnext/exec-action/internal/workflow"
)

// ErrFailed is returned by Run after the failure has been reported to the
// workflow; callers only need to exit non-zero.
var ErrFailed = errors.New("action failed")

// Output names.
const (
	OutputCombined = "combined_output"
	OutputStdout   = "stdout"
	OutputStderr   = "stderr"
	OutputExitCode = "exit_code"
)

// Harness runs the action once. Stdout carries workflow commands and the
// live mirror of the command's output; Stderr mirrors its stderr in
// separate mode.
type Harness struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader // nil inherits os.Stdin
	Getenv func(string) string // nil reads the process environment
}

// Run reads the inputs, runs the command, writes the outputs and reports
// failure as an error annotation. Every failure returns ErrFailed.
func (h *Harness) Run(ctx context.Context) error {
	if err := h.run(ctx); err != nil {
		SetFailed(h.Stdout, err.Error())
		return ErrFailed
	}
	return nil
}

func (h *Harness) run(ctx context.Context) error {
	in, err := ReadInputs(h.getenv)
	if err != nil {
		return err
	}

	workspace := h.getenv("GITHUB_WORKSPACE")
	if workspace == "" {
		if workspace, err = os.Getwd(); err != nil {
			return fmt.Errorf("determining workspace: %w", err)
		}
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	logger := slog.New(NewHandler(h.Stdout, slog.LevelDebug))
	if loaded.Path != "" {
		logger.Debug("loaded config", "path", loaded.Path)
	}

	r, err := workflow.NewRunner(cfg, workspace, logger)
	if err != nil {
		return err
	}
	r.Stdin = h.Stdin
	r.Stdout = h.Stdout
	r.Stderr = h.Stderr

	store, closer, err := workflow.OpenHistory(cfg, workspace, config.HistoryNone)
	if err != nil {
		return err
	}
	defer closer.Close()

	eng := &workflow.Engine{Runner: r, Store: store, Logger: logger}
	out, err := eng.Execute(ctx, workflow.Request{
		Command:          in.Command,
		SuccessExitCodes: in.SuccessExitCodes,
		Mode:             in.Mode(),
		Dir:              in.WorkingDirectory,
	})
	if err != nil {
		return err
	}

	if err := WriteOutputs(NewOutputs(h.getenv("GITHUB_OUTPUT"), h.Stdout), out.Result); err != nil {
		return err
	}
	if !out.Accepted {
		return errors.New(out.FailureMessage())
	}
	return nil
}

// WriteOutputs writes the output shape of the result's mode: combined_output
// and exit_code, or stdout, stderr and exit_code. Never both.
func WriteOutputs(o *Outputs, res *runner.Result) error {
	var pairs [][2]string
	if res.Mode == runner.Separate {
		pairs = [][2]string{{OutputStdout, res.Stdout}, {OutputStderr, res.Stderr}}
	} else {
		pairs = [][2]string{{OutputCombined, res.Combined}}
	}
	pairs = append(pairs, [2]string{OutputExitCode, strconv.Itoa(res.ExitCode)})

	for _, p := range pairs {
		if err := o.Set(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) getenv(key string) string {
	if h.Getenv != nil {
		return h.Getenv(key)
	}
	return os.Getenv(key)
}
