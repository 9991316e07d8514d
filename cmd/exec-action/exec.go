package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/retailnext/exec-action/internal/config"
	"github.com/retailnext/exec-action/internal/runner"
	"github.com/retailnext/exec-action/internal/workflow"
)

type execFlags struct {
	separate         bool
	successExitCodes string
	dir              string
	history          string
	verbose          bool
}

func newExecCmd() *cobra.Command {
	var f execFlags
	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND...",
		Short: "Run a command locally",
		Long: `Runs COMMAND from the current directory. The arguments are joined with single
spaces and tokenized again, so quote an argument as part of one string to keep
its spaces:

  exec-action exec --success-exit-codes 0,1 -- 'grep -c "two words" notes.txt'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execMain(cmd.Context(), strings.Join(args, " "), f)
		},
	}
	cmd.Flags().BoolVar(&f.separate, "separate", false, "capture stdout and stderr separately")
	cmd.Flags().StringVar(&f.successExitCodes, "success-exit-codes", "", `exit codes counted as success, e.g. "0,2-4" (default "0")`)
	cmd.Flags().StringVar(&f.dir, "dir", "", "working directory, relative to the current directory")
	cmd.Flags().StringVar(&f.history, "history", "", "history backend: none, disk or sqlite (default from config, else none)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log engine activity to stderr")
	return cmd
}

func execMain(ctx context.Context, command string, f execFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config
	if f.history != "" {
		cfg.History.Backend = f.history
	}

	logger := stderrLogger(f.verbose)
	r, err := workflow.NewRunner(cfg, workspace, logger)
	if err != nil {
		return err
	}
	r.Stdout = os.Stdout
	r.Stderr = os.Stderr

	store, closer, err := workflow.OpenHistory(cfg, workspace, config.HistoryNone)
	if err != nil {
		return err
	}
	defer closer.Close()

	mode := runner.Combined
	if f.separate {
		mode = runner.Separate
	}

	eng := &workflow.Engine{Runner: r, Store: store, Logger: logger}
	out, err := eng.Execute(ctx, workflow.Request{
		Command:          command,
		SuccessExitCodes: f.successExitCodes,
		Mode:             mode,
		Dir:              f.dir,
	})
	if err != nil {
		return err
	}

	printSummary(os.Stderr, out, store != nil)
	if !out.Accepted {
		return exitError{code: 1}
	}
	return nil
}

func printSummary(w io.Writer, out *workflow.Outcome, stored bool) {
	res := out.Result

	var b strings.Builder
	fmt.Fprintf(&b, "exit %d", res.ExitCode)
	if res.Signal != "" {
		fmt.Fprintf(&b, " (%s)", res.Signal)
	}
	fmt.Fprintf(&b, ", policy %s, %s", out.Policy.String(), res.Duration.Round(time.Millisecond))
	if res.Truncated {
		b.WriteString(", output truncated")
	}
	if stored {
		fmt.Fprintf(&b, ", run %s", res.RunID)
	}

	if out.Accepted {
		fmt.Fprintf(w, "%s %s\n", color.New(color.FgGreen).Sprint("✓"), b.String())
		return
	}
	fmt.Fprintf(w, "%s %s\n", color.New(color.FgRed).Sprint("✗"), b.String())
}
