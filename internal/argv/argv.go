// Package argv splits a raw command line into an argument vector.
//
// Only quoting and backslash escaping are understood. Pipes, redirects,
// globs and variable references are passed through as literal text; the
// command is never handed to a shell.
package argv

import (
	"strings"

	"github.com/jmgilman/go/errors"
)

// CodeMalformedCommand identifies syntax errors in a command line.
const CodeMalformedCommand errors.ErrorCode = "MALFORMED_COMMAND"

// Tokenize splits command into arguments in a single left-to-right scan.
//
// A backslash makes the next character literal, inside or outside quotes.
// A single or double quote opens a span that only the same quote character
// closes; the other quote character is literal inside it. Unquoted spaces,
// tabs and newlines separate arguments. Empty accumulators are never
// emitted, so blank input yields an empty, non-nil vector and no error.
func Tokenize(command string) ([]string, error) {
	args := []string{}
	var (
		cur      strings.Builder
		inQuotes byte
		escaped  bool
	)

	// Every delimiter is ASCII, so scanning bytes leaves multibyte and
	// invalid UTF-8 sequences untouched.
	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case inQuotes != 0:
			if c == inQuotes {
				inQuotes = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			inQuotes = c
		case c == ' ' || c == '\t' || c == '\n':
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}

	if escaped {
		return nil, errors.New(CodeMalformedCommand, "incomplete escape sequence")
	}
	if inQuotes != 0 {
		return nil, errors.New(CodeMalformedCommand, "unclosed quote")
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args, nil
}
