package ghaction

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/retailnext/exec-action/internal/runner"
)

// Input names as declared in action.yml. The runner exposes each one as
// INPUT_<NAME> in the step environment.
const (
	InputCommand          = "command"
	InputSuccessExitCodes = "success_exit_codes"
	InputSeparateOutputs  = "separate_outputs"
	InputWorkingDirectory = "working_directory"
)

// ErrMissingCommand is returned when the required command input is empty.
var ErrMissingCommand = errors.New("input required and not supplied: " + InputCommand)

// Inputs are the action's inputs.
type Inputs struct {
	Command          string
	SuccessExitCodes string
	SeparateOutputs  string
	WorkingDirectory string
}

// Mode maps the separate_outputs input to a capture mode.
func (in *Inputs) Mode() runner.Mode {
	return runner.ModeFromFlag(in.SeparateOutputs)
}

// inputNames lists every input the action declares.
var inputNames = []string{InputCommand, InputSuccessExitCodes, InputSeparateOutputs, InputWorkingDirectory}

// EnvName returns the variable the runner sets for input name.
func EnvName(name string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
}

// ReadInputs reads the action inputs through getenv. A nil getenv reads
// the process environment.
func ReadInputs(getenv func(string) string) (*Inputs, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	values := make(map[string]any, len(inputNames))
	for _, name := range inputNames {
		if val := getenv(EnvName(name)); val != "" {
			values[name] = val
		}
	}
	v := viper.New()
	if err := v.MergeConfigMap(values); err != nil {
		return nil, fmt.Errorf("reading inputs: %w", err)
	}

	in := &Inputs{
		Command:          v.GetString(InputCommand),
		SuccessExitCodes: strings.TrimSpace(v.GetString(InputSuccessExitCodes)),
		SeparateOutputs:  strings.TrimSpace(v.GetString(InputSeparateOutputs)),
		WorkingDirectory: strings.TrimSpace(v.GetString(InputWorkingDirectory)),
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, ErrMissingCommand
	}
	return in, nil
}
