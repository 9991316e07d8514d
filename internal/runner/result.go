package runner

import "time"

// Mode selects how the child's output streams are captured.
type Mode int

const (
	// Combined merges stdout and stderr into one ordered stream.
	Combined Mode = iota
	// Separate captures stdout and stderr independently.
	Separate
)

func (m Mode) String() string {
	if m == Separate {
		return "separate"
	}
	return "combined"
}

// ModeFromFlag maps a separate-outputs flag to a Mode: "true" and "1"
// select Separate, anything else Combined.
func ModeFromFlag(raw string) Mode {
	switch raw {
	case "true", "1":
		return Separate
	}
	return Combined
}

// Result holds the output of a command execution. Fields that do not apply
// to the capture mode are empty strings, never missing.
type Result struct {
	RunID     string        // unique identifier for this run
	Argv      []string      // tokenized command
	Mode      Mode          // capture mode
	Stdout    string        // captured stdout (Separate mode)
	Stderr    string        // captured stderr (Separate mode)
	Combined  string        // merged stdout and stderr (Combined mode)
	ExitCode  int           // process exit code; 0 when killed by a signal
	Signal    string        // terminating signal name, if any
	Truncated bool          // true if a capture exceeded the size cap
	StartedAt time.Time     // when the child was spawned
	Duration  time.Duration // spawn to settlement
}

// Diagnostics returns the captured error output for failure messages:
// stderr in Separate mode, the merged stream in Combined mode.
func (r *Result) Diagnostics() string {
	if r.Mode == Separate {
		return r.Stderr
	}
	return r.Combined
}
