package tactile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"pxh/internal/action"
)

// ToolConfig configures a ToolExecutor.
type ToolConfig struct {
	// BinDir holds the tool-<name> executables.
	BinDir string

	// ProjectRoot is exported to tools as PROJECT_ROOT unless the
	// environment already carries one.
	ProjectRoot string

	// Timeout bounds each tool run. Zero disables it.
	Timeout time.Duration

	MaxOutputBytes int64
}

// ToolExecutor maps validated tools onto their executables and runs them with
// the composed environment. Tools never receive arguments.
type ToolExecutor struct {
	config  ToolConfig
	runner  Runner
	logger  *zap.Logger
	environ func() []string
}

// NewToolExecutor creates a ToolExecutor backed by a DirectExecutor.
func NewToolExecutor(config ToolConfig, logger *zap.Logger) *ToolExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolExecutor{
		config:  config,
		runner:  NewDirectExecutor(config.MaxOutputBytes, logger),
		logger:  logger,
		environ: os.Environ,
	}
}

// Path returns the executable for tool.
func (e *ToolExecutor) Path(tool action.Tool) string {
	return filepath.Join(e.config.BinDir, tool.Executable())
}

// Execute runs tool with env. When dry is set PX_DRY is forced to "1".
// A missing executable is reported as ErrMissingTool.
func (e *ToolExecutor) Execute(ctx context.Context, tool action.Tool, env action.Env, dry bool) (*ExecutionResult, error) {
	path := e.Path(tool)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingTool, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	e.logger.Info("executing tool",
		zap.String("tool", string(tool)),
		zap.Bool("dry", dry))

	result, err := e.runner.Run(ctx, Command{
		Binary:      path,
		Environment: e.Environment(env, dry),
		Timeout:     e.config.Timeout,
	})
	if err != nil {
		return result, fmt.Errorf("%s: %w", tool, err)
	}
	return result, nil
}

// Environment composes the tool environment: the process environment,
// PROJECT_ROOT if absent, PX_DRY, then every remaining override.
func (e *ToolExecutor) Environment(overrides action.Env, dry bool) []string {
	vars := make(map[string]string)
	for _, kv := range e.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[key] = value
	}

	if _, ok := vars["PROJECT_ROOT"]; !ok && e.config.ProjectRoot != "" {
		vars["PROJECT_ROOT"] = e.config.ProjectRoot
	}

	rest := make(action.Env, len(overrides))
	for k, v := range overrides {
		rest[k] = v
	}
	drySetting, ok := rest[action.EnvDry]
	if !ok {
		drySetting = "0"
	}
	delete(rest, action.EnvDry)
	if dry {
		drySetting = "1"
	}
	vars[action.EnvDry] = drySetting

	for k, v := range rest {
		vars[k] = v
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
