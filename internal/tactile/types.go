// Package tactile runs the external processes the supervisor depends on:
// the hardware tool binaries, the model CLI and the transcriber.
//
// Every process runs under a timeout, in its own process group, with its
// output captured up to a byte cap. A non-zero exit is a result, not an error.
package tactile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
)

var (
	// ErrMissingTool is returned when a tool executable does not exist.
	ErrMissingTool = errors.New("tool executable not found")

	// ErrTimeout is returned when a process outlives its timeout and is killed.
	ErrTimeout = errors.New("command timed out")
)

// DefaultMaxOutputBytes caps each of stdout and stderr.
const DefaultMaxOutputBytes int64 = 1 << 20

// Command describes one process invocation.
type Command struct {
	// Binary is the executable path or a name looked up on PATH.
	Binary string `json:"binary"`

	Arguments []string `json:"arguments,omitempty"`

	// WorkingDirectory defaults to the current directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment is the complete KEY=VALUE environment. Nil inherits the
	// current process environment.
	Environment []string `json:"environment,omitempty"`

	// Stdin is written to the process's standard input. Empty means no input.
	Stdin string `json:"stdin,omitempty"`

	// Timeout bounds wall time. Zero disables it.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxOutputBytes caps stdout and stderr separately. Zero uses the
	// executor default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ParseCommandLine splits a configured command line into a Command using
// shell word rules, so quoted arguments survive.
func ParseCommandLine(line string) (Command, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse command line %q: %w", line, err)
	}
	if len(words) == 0 {
		return Command{}, fmt.Errorf("empty command line")
	}
	return Command{Binary: words[0], Arguments: words[1:]}, nil
}

// ExecutionResult is the outcome of a process that started.
type ExecutionResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	// Killed is set when the process was stopped by timeout or cancellation.
	Killed     bool   `json:"killed,omitempty"`
	KillReason string `json:"kill_reason,omitempty"`

	Truncated      bool  `json:"truncated,omitempty"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`
}

// Succeeded reports whether the process exited 0 on its own.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && !r.Killed && r.ExitCode == 0
}
