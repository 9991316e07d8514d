package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/retailnext/exec-action/internal/ghaction"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run as a GitHub Action (the default)",
		Long: `Reads the command from INPUT_COMMAND, the exit-code policy from
INPUT_SUCCESS_EXIT_CODES, the capture mode from INPUT_SEPARATE_OUTPUTS and an
optional INPUT_WORKING_DIRECTORY, then writes combined_output and exit_code
(or stdout, stderr and exit_code) to GITHUB_OUTPUT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context())
		},
	}
}

func runAction(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h := &ghaction.Harness{Stdout: os.Stdout, Stderr: os.Stderr}
	if err := h.Run(ctx); err != nil {
		if errors.Is(err, ghaction.ErrFailed) {
			return exitError{code: 1}
		}
		return err
	}
	return nil
}
