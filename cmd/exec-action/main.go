// Command exec-action runs a single command with captured output, exit-code
// policy and signal forwarding, as a GitHub Action, a local CLI or an MCP
// server.
package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	execaction "github.com/retailnext/exec-action"
)

// exitError asks main to exit with code without printing anything more.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("exec-action: ")

	if err := newRootCmd().Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exec-action",
		Short: "Run a command, capture its output and judge its exit code",
		Long: `exec-action runs one command line directly (never through a shell), captures
its stdout and stderr either merged in write order or separately, relays
termination signals to it, and judges its exit code against a policy such as
"0,2-4".

With no subcommand it runs as a GitHub Action, reading INPUT_* variables and
writing step outputs to GITHUB_OUTPUT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context())
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newExecCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(execaction.Version)
		},
	})
	return root
}

// stderrLogger logs to stderr, at Debug when verbose and Warn otherwise.
func stderrLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
