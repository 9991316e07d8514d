// Package report provides persistence and retrieval of settled command runs.
// Results are stored as typed structs and can be sliced by stream, substring
// and tail for inspection after the fact.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/retailnext/exec-action/internal/runner"
)

// CodeRunNotFound is returned by Load when no run with the given ID exists.
const CodeRunNotFound errors.ErrorCode = "RUN_NOT_FOUND"

// Stream names accepted by Lines.
const (
	StreamStdout   = "stdout"
	StreamStderr   = "stderr"
	StreamCombined = "combined"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// Lister is implemented by stores that can enumerate their runs.
type Lister interface {
	Recent(limit int) ([]Summary, error)
}

// Summary is a one-line view of a stored run.
type Summary struct {
	ID        string
	Command   string
	ExitCode  int
	Accepted  bool
	StartedAt time.Time
}

func (r *RunResult) summary() Summary {
	return Summary{ID: r.ID, Command: r.Command, ExitCode: r.ExitCode, Accepted: r.Accepted, StartedAt: r.StartedAt}
}

// RunResult is the stored record of one settled run.
type RunResult struct {
	ID               string        `json:"id"`
	Command          string        `json:"command"`
	Argv             []string      `json:"argv"`
	Mode             string        `json:"mode"` // "combined" or "separate"
	SuccessExitCodes string        `json:"success_exit_codes"`
	ExitCode         int           `json:"exit_code"`
	Signal           string        `json:"signal,omitempty"`
	Accepted         bool          `json:"accepted"`
	Stdout           string        `json:"stdout"`
	Stderr           string        `json:"stderr"`
	Combined         string        `json:"combined"`
	Truncated        bool          `json:"truncated,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// FromResult builds the stored record for res. policy is the compact form of
// the exit-code set the run was judged against.
func FromResult(command string, res *runner.Result, policy string, accepted bool) *RunResult {
	return &RunResult{
		ID:               res.RunID,
		Command:          command,
		Argv:             res.Argv,
		Mode:             res.Mode.String(),
		SuccessExitCodes: policy,
		ExitCode:         res.ExitCode,
		Signal:           res.Signal,
		Accepted:         accepted,
		Stdout:           res.Stdout,
		Stderr:           res.Stderr,
		Combined:         res.Combined,
		Truncated:        res.Truncated,
		StartedAt:        res.StartedAt,
		Duration:         res.Duration,
	}
}

// Stream returns the captured text of the named stream. An empty name
// selects the primary stream of the run's mode: combined output, or stdout
// for separate captures.
func (r *RunResult) Stream(name string) (string, error) {
	switch name {
	case "":
		if r.Mode == runner.Separate.String() {
			return r.Stdout, nil
		}
		return r.Combined, nil
	case StreamStdout:
		return r.Stdout, nil
	case StreamStderr:
		return r.Stderr, nil
	case StreamCombined:
		return r.Combined, nil
	}
	return "", fmt.Errorf("unknown stream %q (want stdout, stderr or combined)", name)
}

// Lines returns the lines of a captured stream that contain the substring
// contains (all lines if empty), keeping only the last tail of them when
// tail > 0.
func Lines(result *RunResult, stream, contains string, tail int) ([]string, error) {
	text, err := result.Stream(stream)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil, nil
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if contains == "" || strings.Contains(line, contains) {
			out = append(out, line)
		}
	}
	if tail > 0 && len(out) > tail {
		out = out[len(out)-tail:]
	}
	return out, nil
}

func notFound(runID string) error {
	return errors.Newf(CodeRunNotFound, "no run %q", runID)
}
