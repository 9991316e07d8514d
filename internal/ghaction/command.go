// Package ghaction is the GitHub Actions harness: it reads action inputs
// from the environment, writes step outputs, and speaks workflow commands
// on stdout.
package ghaction

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// EscapeData escapes a workflow command message.
func EscapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}

// EscapeProperty escapes a workflow command property value.
func EscapeProperty(s string) string {
	s = EscapeData(s)
	s = strings.ReplaceAll(s, ":", "%3A")
	return strings.ReplaceAll(s, ",", "%2C")
}

// Issue writes the workflow command "::name props::message" to w.
func Issue(w io.Writer, name string, props map[string]string, message string) {
	var b strings.Builder
	b.WriteString("::")
	b.WriteString(name)
	if len(props) > 0 {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte(' ')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%s=%s", k, EscapeProperty(props[k]))
		}
	}
	b.WriteString("::")
	b.WriteString(EscapeData(message))
	b.WriteByte('\n')
	_, _ = io.WriteString(w, b.String())
}

// SetFailed reports message as an error annotation. The caller is expected
// to exit non-zero afterwards.
func SetFailed(w io.Writer, message string) {
	Issue(w, "error", nil, message)
}

// Outputs writes step outputs to the file named by GITHUB_OUTPUT, or as
// legacy set-output commands when that variable is unset.
type Outputs struct {
	path     string
	fallback io.Writer
}

// NewOutputs returns Outputs for the given GITHUB_OUTPUT path. An empty path
// selects the set-output fallback on w.
func NewOutputs(path string, w io.Writer) *Outputs {
	return &Outputs{path: path, fallback: w}
}

// Set records one output value.
func (o *Outputs) Set(name, value string) error {
	if o.path == "" {
		Issue(o.fallback, "set-output", map[string]string{"name": name}, value)
		return nil
	}

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, fileCommand(name, value)); err != nil {
		return fmt.Errorf("writing output %s: %w", name, err)
	}
	return nil
}

// fileCommand renders name and value in the heredoc form understood by
// GITHUB_OUTPUT. The delimiter never occurs in name or value.
func fileCommand(name, value string) string {
	delim := "ghadelimiter_" + uuid.NewString()
	for strings.Contains(name, delim) || strings.Contains(value, delim) {
		delim = "ghadelimiter_" + uuid.NewString()
	}
	return fmt.Sprintf("%s<<%s\n%s\n%s\n", name, delim, value, delim)
}
