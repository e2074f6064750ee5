package loop

import (
	"context"
	"fmt"
	"time"

	"pxh/internal/tactile"
)

// Model answers a prompt. ModelCLI is the production implementation.
type Model interface {
	Complete(ctx context.Context, prompt string) (*tactile.ExecutionResult, error)
}

// ModelCLI runs the configured model command with the prompt on stdin.
type ModelCLI struct {
	runner  tactile.Runner
	command tactile.Command
}

// NewModelCLI parses commandLine with shell word rules.
func NewModelCLI(runner tactile.Runner, commandLine string, timeout time.Duration) (*ModelCLI, error) {
	cmd, err := tactile.ParseCommandLine(commandLine)
	if err != nil {
		return nil, fmt.Errorf("invalid model command: %w", err)
	}
	cmd.Timeout = timeout
	return &ModelCLI{runner: runner, command: cmd}, nil
}

// Complete returns the finished process, whatever its exit code. The result
// may be non-nil alongside an error when the process was killed.
func (m *ModelCLI) Complete(ctx context.Context, prompt string) (*tactile.ExecutionResult, error) {
	cmd := m.command
	cmd.Stdin = prompt
	return m.runner.Run(ctx, cmd)
}
