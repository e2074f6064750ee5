package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// waitDelay bounds how long Run waits for output pipes after the process
// has been killed.
const waitDelay = 2 * time.Second

// DirectExecutor runs commands directly on the host using os/exec.
type DirectExecutor struct {
	maxOutput int64
	logger    *zap.Logger
}

// NewDirectExecutor creates an executor. maxOutput <= 0 uses
// DefaultMaxOutputBytes; a nil logger discards diagnostics.
func NewDirectExecutor(maxOutput int64, logger *zap.Logger) *DirectExecutor {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectExecutor{maxOutput: maxOutput, logger: logger}
}

// Run executes cmd and waits for it. A process that starts and exits non-zero
// yields a result and a nil error. A process killed by its timeout yields the
// partial result and an error wrapping ErrTimeout. Start failures return a nil
// result.
func (e *DirectExecutor) Run(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = cmd.Environment
	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error { return killProcessGroup(execCmd) }
	execCmd.WaitDelay = waitDelay

	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	maxOutput := e.maxOutput
	if cmd.MaxOutputBytes > 0 {
		maxOutput = cmd.MaxOutputBytes
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	e.logger.Debug("starting process",
		zap.String("command", cmd.CommandString()),
		zap.Duration("timeout", cmd.Timeout),
		zap.Int("stdin_bytes", len(cmd.Stdin)))

	result := &ExecutionResult{ExitCode: -1, StartedAt: time.Now()}
	if err := execCmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Binary, err)
	}
	err := execCmd.Wait()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		e.logger.Warn("command output truncated",
			zap.String("binary", cmd.Binary),
			zap.Int64("discarded_bytes", result.TruncatedBytes))
	}

	if execCmd.ProcessState != nil {
		result.ExitCode = execCmd.ProcessState.ExitCode()
	}

	switch {
	case err != nil && ctx.Err() != nil:
		result.Killed = true
		result.KillReason = "context canceled"
		return result, fmt.Errorf("%s: %w", cmd.Binary, ctx.Err())
	case err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", cmd.Timeout)
		e.logger.Warn("command killed",
			zap.String("binary", cmd.Binary),
			zap.Duration("timeout", cmd.Timeout))
		return result, fmt.Errorf("%s: %w after %s", cmd.Binary, ErrTimeout, cmd.Timeout)
	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("run %s: %w", cmd.Binary, err)
		}
	}

	e.logger.Debug("process finished",
		zap.String("binary", cmd.Binary),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Int("stdout_bytes", len(result.Stdout)))
	return result, nil
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// Report the full length so the copier does not fail with a short write.
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
