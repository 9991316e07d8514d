package workflow

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmgilman/go/errors"

	"github.com/retailnext/exec-action/internal/config"
	"github.com/retailnext/exec-action/internal/policy"
	"github.com/retailnext/exec-action/internal/report"
	"github.com/retailnext/exec-action/internal/runner"
)

// fakeRunner returns a canned result and records what it was asked to run.
type fakeRunner struct {
	res   *runner.Result
	err   error
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, command string, mode runner.Mode, _ string) (*runner.Result, error) {
	f.calls = append(f.calls, command)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	res.Mode = mode
	return &res, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecute_PolicyAcceptance(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		exitCode int
		accepted bool
	}{
		{"default accepts zero", "", 0, true},
		{"default rejects 42", "", 42, false},
		{"range accepts 42", "0-50", 42, true},
		{"list rejects 5", "0,2-4,7", 5, false},
		{"unbounded range accepts 255", "1-9223372036854775807", 255, true},
		{"unbounded range rejects 0", "1-9223372036854775807", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Engine{
				Runner: &fakeRunner{res: &runner.Result{RunID: "r", ExitCode: tt.exitCode}},
				Logger: quietLogger(),
			}
			out, err := e.Execute(context.Background(), Request{Command: "x", SuccessExitCodes: tt.policy})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out.Accepted != tt.accepted {
				t.Errorf("Accepted = %v, want %v", out.Accepted, tt.accepted)
			}
			if out.Record != nil {
				t.Errorf("Record = %+v, want nil without a store", out.Record)
			}
		})
	}
}

func TestExecute_InvalidPolicyDoesNotRun(t *testing.T) {
	fr := &fakeRunner{res: &runner.Result{}}
	e := &Engine{Runner: fr, Logger: quietLogger()}

	_, err := e.Execute(context.Background(), Request{Command: "echo", SuccessExitCodes: "5-2"})
	if err == nil {
		t.Fatal("expected error for reversed range")
	}
	if code := errors.GetCode(err); code != policy.CodeInvalidPolicy {
		t.Errorf("code = %s, want %s", code, policy.CodeInvalidPolicy)
	}
	if len(fr.calls) != 0 {
		t.Errorf("runner called %d times, want 0", len(fr.calls))
	}
}

func TestExecute_RunnerErrorPropagates(t *testing.T) {
	e := &Engine{
		Runner: &fakeRunner{err: errors.New(runner.CodeSpawnFailed, "starting nope")},
		Logger: quietLogger(),
	}
	_, err := e.Execute(context.Background(), Request{Command: "nope"})
	if code := errors.GetCode(err); code != runner.CodeSpawnFailed {
		t.Errorf("code = %s, want %s", code, runner.CodeSpawnFailed)
	}
}

func TestExecute_SavesHistory(t *testing.T) {
	store := report.NewLRUStore(4, nil)
	e := &Engine{
		Runner: &fakeRunner{res: &runner.Result{RunID: "run-7", ExitCode: 3, Combined: "boom\n"}},
		Store:  store,
		Logger: quietLogger(),
	}
	out, err := e.Execute(context.Background(), Request{Command: "make", SuccessExitCodes: "0,3"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Record == nil {
		t.Fatal("Record is nil with a store configured")
	}

	rec, err := store.Load("run-7")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Command != "make" {
		t.Errorf("Command = %q, want make", rec.Command)
	}
	if rec.SuccessExitCodes != "0,3" {
		t.Errorf("SuccessExitCodes = %q, want 0,3", rec.SuccessExitCodes)
	}
	if !rec.Accepted {
		t.Error("Accepted = false, want true")
	}
	if rec.Combined != "boom\n" {
		t.Errorf("Combined = %q, want %q", rec.Combined, "boom\n")
	}
}

func TestFailureMessage(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		o := &Outcome{Result: &runner.Result{}, Accepted: true}
		if msg := o.FailureMessage(); msg != "" {
			t.Errorf("FailureMessage() = %q, want empty", msg)
		}
	})

	t.Run("combined", func(t *testing.T) {
		o := &Outcome{Result: &runner.Result{ExitCode: 42, Combined: "out\nerr\n"}}
		if msg, want := o.FailureMessage(), "Command failed with exit code 42\nout\nerr"; msg != want {
			t.Errorf("FailureMessage() = %q, want %q", msg, want)
		}
	})

	t.Run("separate uses stderr", func(t *testing.T) {
		o := &Outcome{Result: &runner.Result{Mode: runner.Separate, ExitCode: 1, Stdout: "ignored", Stderr: "bad input"}}
		msg := o.FailureMessage()
		if !strings.Contains(msg, "exit code 1") || !strings.Contains(msg, "bad input") {
			t.Errorf("FailureMessage() = %q, want exit code 1 and stderr", msg)
		}
		if strings.Contains(msg, "ignored") {
			t.Errorf("FailureMessage() = %q, must not include stdout", msg)
		}
	})

	t.Run("signal", func(t *testing.T) {
		o := &Outcome{Result: &runner.Result{Signal: "SIGKILL"}, Policy: policy.Default()}
		if msg, want := o.FailureMessage(), "Command failed with exit code 0 (terminated by SIGKILL)"; msg != want {
			t.Errorf("FailureMessage() = %q, want %q", msg, want)
		}
	})
}

func TestExecute_RealCommand(t *testing.T) {
	ws := t.TempDir()
	r, err := NewRunner(&config.Config{}, ws, quietLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.Stdin = strings.NewReader("")

	e := &Engine{Runner: r, Logger: quietLogger()}
	out, err := e.Execute(context.Background(), Request{
		Command: `sh -c "echo visible; echo problem >&2; exit 42"`,
		Mode:    runner.Separate,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Accepted {
		t.Error("Accepted = true, want false for exit 42")
	}
	if out.Result.Stdout != "visible\n" {
		t.Errorf("Stdout = %q, want %q", out.Result.Stdout, "visible\n")
	}
	if msg := out.FailureMessage(); !strings.Contains(msg, "42") || !strings.Contains(msg, "problem") {
		t.Errorf("FailureMessage() = %q, want exit code and stderr", msg)
	}

	out, err = e.Execute(context.Background(), Request{
		Command:          `sh -c "exit 42"`,
		SuccessExitCodes: "0-50",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Accepted {
		t.Error("Accepted = false, want true under 0-50")
	}
}

func TestOpenHistory(t *testing.T) {
	ws := t.TempDir()

	store, closer, err := OpenHistory(&config.Config{}, ws, config.HistoryNone)
	if err != nil {
		t.Fatalf("OpenHistory(none): %v", err)
	}
	if store != nil {
		t.Errorf("store = %T, want nil", store)
	}
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{History: config.HistoryConfig{Path: "runs"}}
	store, closer, err = OpenHistory(cfg, ws, config.HistoryDisk)
	if err != nil {
		t.Fatalf("OpenHistory(disk): %v", err)
	}
	if err := store.Save(&report.RunResult{ID: "d1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "runs", "d1.json")); err != nil {
		t.Errorf("run file: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	cfg = &config.Config{History: config.HistoryConfig{Backend: "sqlite"}}
	store, closer, err = OpenHistory(cfg, ws, config.HistoryNone)
	if err != nil {
		t.Fatalf("OpenHistory(sqlite): %v", err)
	}
	if err := store.Save(&report.RunResult{ID: "s1", Command: "true"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, DefaultHistoryDir, "history.db")); err != nil {
		t.Errorf("history database: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	if _, _, err := OpenHistory(&config.Config{History: config.HistoryConfig{Backend: "redis"}}, ws, config.HistoryNone); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewRunner_FromConfig(t *testing.T) {
	cfg := &config.Config{RawMaxOutput: 10, RawDrainTimeout: "1s", ForwardSignals: []string{"INT"}}
	r, err := NewRunner(cfg, "/ws", nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if r.Workspace != "/ws" {
		t.Errorf("Workspace = %q, want /ws", r.Workspace)
	}
	if r.MaxOutput != 10 {
		t.Errorf("MaxOutput = %d, want 10", r.MaxOutput)
	}
	if len(r.Signals) != 1 {
		t.Errorf("Signals = %v, want one signal", r.Signals)
	}

	if _, err := NewRunner(&config.Config{ForwardSignals: []string{"NOPE"}}, "/ws", nil); err == nil {
		t.Error("expected error for unknown signal")
	}
}
