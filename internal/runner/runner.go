// Package runner executes a single command line, capturing its output and
// relaying termination signals to it until it exits.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sys/unix"

	"github.com/retailnext/exec-action/internal/argv"
	"github.com/retailnext/exec-action/internal/mergepipe"
	"github.com/retailnext/exec-action/internal/signals"
)

// Error codes produced by Run in addition to those of argv and mergepipe.
const (
	CodeEmptyCommand errors.ErrorCode = "EMPTY_COMMAND"
	CodeSpawnFailed  errors.ErrorCode = "SPAWN_FAILED"
)

// Runner executes commands. The zero value runs in the current directory,
// inherits stdin, captures without mirroring and relays signals.Forwarded.
type Runner struct {
	Workspace    string        // base for relative working directories
	MaxOutput    int           // cap per captured stream in bytes; 0 means unlimited
	DrainTimeout time.Duration // bound on waiting for output after exit
	Signals      []os.Signal   // signals relayed to the child; signals.Forwarded if nil
	PipeDir      string        // where merge pipes are created; os.TempDir() if empty
	Stdin        io.Reader     // child's stdin; this process's stdin if nil
	Stdout       io.Writer     // live mirror of captured stdout or merged output
	Stderr       io.Writer     // live mirror of captured stderr (Separate mode)
	Logger       *slog.Logger
}

// Run tokenizes command, runs it directly (never through a shell) and
// returns once the process has exited and its output has drained.
//
// cwd is resolved relative to the workspace and must remain within it.
// Cancelling ctx relays SIGTERM to the child; Run still waits for it to
// exit. A non-zero exit code is reported in the Result, not as an error.
func (r *Runner) Run(ctx context.Context, command string, mode Mode, cwd string) (*Result, error) {
	inv := r.begin()

	args, err := argv.Tokenize(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New(CodeEmptyCommand, "command is empty")
	}
	inv.advance(phaseTokenized)

	dir, err := r.resolveDir(cwd)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdin = r.Stdin
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	cmd.WaitDelay = r.drainTimeout()

	var (
		pipe           *mergepipe.Channel
		stdout, stderr limitWriter
	)
	stdout.limit, stderr.limit = r.MaxOutput, r.MaxOutput

	switch mode {
	case Separate:
		cmd.Stdout = &teeWriter{capture: &stdout, mirror: r.Stdout}
		cmd.Stderr = &teeWriter{capture: &stderr, mirror: r.Stderr}
	default:
		pipe, err = mergepipe.Open(mergepipe.Options{
			Dir:          r.PipeDir,
			Mirror:       r.Stdout,
			DrainTimeout: r.drainTimeout(),
			MaxOutput:    r.MaxOutput,
		})
		if err != nil {
			return nil, err
		}
		defer pipe.Close()
		// Same *os.File for both, so the child gets one descriptor dup'd
		// to fd 1 and fd 2.
		cmd.Stdout = pipe.Writer()
		cmd.Stderr = pipe.Writer()
	}

	fwd := signals.Start(r.signals(), inv.logger)
	defer fwd.Stop()

	inv.logger.Debug("starting command", "argv", args, "mode", mode.String(), "dir", dir)
	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		fwd.Stop()
		if pipe != nil {
			_ = pipe.Close()
		}
		inv.settle()
		return nil, errors.Wrapf(err, CodeSpawnFailed, "starting %s", args[0])
	}
	inv.advance(phaseSpawned)
	fwd.Attach(cmd.Process)

	if pipe != nil {
		// The child holds its own copies of the write end; dropping ours
		// lets the reader see end of stream as soon as the child is gone.
		_ = pipe.CloseWriter()
	}
	inv.advance(phaseRunning)

	waitErr := wait(ctx, cmd, fwd)
	fwd.Stop()
	inv.advance(phaseDraining)

	res := &Result{
		RunID:     inv.id,
		Argv:      args,
		Mode:      mode,
		StartedAt: startedAt,
	}
	if pipe != nil {
		if err := pipe.Close(); err != nil {
			inv.logger.Warn("merge pipe reader stopped early", "error", err)
		}
		res.Combined = pipe.String()
		res.Truncated = pipe.Truncated()
	} else {
		res.Stdout = stdout.buf.String()
		res.Stderr = stderr.buf.String()
		res.Truncated = stdout.truncated || stderr.truncated
	}

	switch {
	case waitErr == nil:
	case errors.Is(waitErr, exec.ErrWaitDelay):
		inv.logger.Warn("output still open after exit, settling without it", "wait_delay", cmd.WaitDelay)
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			inv.settle()
			return nil, errors.Wrapf(waitErr, errors.CodeExecutionFailed, "waiting for %s", args[0])
		}
	}

	res.ExitCode, res.Signal = exitStatus(cmd.ProcessState)
	res.Duration = time.Since(startedAt)
	if !inv.settle() {
		return nil, fmt.Errorf("run %s settled twice", inv.id)
	}
	inv.logger.Debug("command settled", "exit_code", res.ExitCode, "signal", res.Signal, "duration", res.Duration)
	return res, nil
}

// wait waits for the child to exit. Cancelling ctx relays SIGTERM once;
// the child still decides when to exit.
func wait(ctx context.Context, cmd *exec.Cmd, fwd *signals.Forwarder) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		fwd.Inject(syscall.SIGTERM)
		return <-done
	}
}

// exitStatus reports the exit code and, for signal deaths, the signal name.
// A child killed by a signal reports exit code 0.
func exitStatus(state *os.ProcessState) (int, string) {
	if state == nil {
		return 0, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 0, unix.SignalName(ws.Signal())
	}
	return state.ExitCode(), ""
}

func (r *Runner) signals() []os.Signal {
	if r.Signals != nil {
		return r.Signals
	}
	return signals.Forwarded
}

func (r *Runner) drainTimeout() time.Duration {
	if r.DrainTimeout > 0 {
		return r.DrainTimeout
	}
	return mergepipe.DefaultDrainTimeout
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}
	if r.Workspace == "" {
		return filepath.Clean(cwd), nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	// Ensure dir is within workspace.
	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}

type phase int32

const (
	phaseInit phase = iota
	phaseTokenized
	phaseSpawned
	phaseRunning
	phaseDraining
	phaseSettled
)

var phaseNames = [...]string{"init", "tokenized", "spawned", "running", "draining", "settled"}

func (p phase) String() string { return phaseNames[p] }

// invocation tracks one Run through its phases. settle is the only way
// into phaseSettled and succeeds once.
type invocation struct {
	id     string
	phase  atomic.Int32
	logger *slog.Logger
}

func (r *Runner) begin() *invocation {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &invocation{id: id, logger: logger.With("run_id", id)}
}

func (inv *invocation) advance(to phase) {
	for {
		cur := inv.phase.Load()
		if phase(cur) == phaseSettled || phase(cur) >= to {
			return
		}
		if inv.phase.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}

func (inv *invocation) settle() bool {
	for {
		cur := inv.phase.Load()
		if phase(cur) == phaseSettled {
			return false
		}
		if inv.phase.CompareAndSwap(cur, int32(phaseSettled)) {
			return true
		}
	}
}

// limitWriter writes up to limit bytes to buf, then silently discards the
// rest. A limit of 0 or less means no limit.
type limitWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

// teeWriter captures every write and copies it to mirror, ignoring mirror
// failures so a closed terminal cannot abort the capture.
type teeWriter struct {
	capture *limitWriter
	mirror  io.Writer
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.capture.Write(p)
	if t.mirror != nil {
		_, _ = t.mirror.Write(p)
	}
	return n, err
}
