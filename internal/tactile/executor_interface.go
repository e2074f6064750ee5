package tactile

import (
	"context"

	"pxh/internal/action"
)

// Runner runs a single process. DirectExecutor is the host implementation.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*ExecutionResult, error)
}

// ToolRunner executes one allow-listed tool. ToolExecutor is the host
// implementation; tests substitute fakes.
type ToolRunner interface {
	Execute(ctx context.Context, tool action.Tool, env action.Env, dry bool) (*ExecutionResult, error)
}

var (
	_ Runner     = (*DirectExecutor)(nil)
	_ ToolRunner = (*ToolExecutor)(nil)
)
