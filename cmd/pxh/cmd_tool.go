package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pxh/internal/action"
	"pxh/internal/clock"
	"pxh/internal/logging"
	"pxh/internal/tactile"
)

// streamCLI records tool runs started from the command line.
const streamCLI = "cli"

func newToolCmd() *cobra.Command {
	toolCmd := &cobra.Command{
		Use:   "tool",
		Short: "Run or list robot tools",
	}

	var params []string
	var dryRun bool
	runCmd := &cobra.Command{
		Use:   "run [tool]",
		Short: "Validate and run one tool outside the loop",
		Long: `Builds {"tool": <tool>, "params": {...}} from the arguments, validates it
exactly as the loop does and runs the tool.

Example:
  pxh tool run tool_circle --param speed=20 --param duration=4 --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return toolRun(cmd, args[0], params, dryRun)
		},
	}
	runCmd.Flags().StringArrayVar(&params, "param", nil, "Tool parameter key=value (repeatable)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run with PX_DRY=1")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List allow-listed tools and their executables",
		Args:  cobra.NoArgs,
		RunE:  toolList,
	}

	toolCmd.AddCommand(runCmd, listCmd)
	return toolCmd
}

func newToolExecutor() *tactile.ToolExecutor {
	return tactile.NewToolExecutor(tactile.ToolConfig{
		BinDir:         cfg.ToolDir(),
		ProjectRoot:    cfg.Root(),
		Timeout:        cfg.GetToolTimeout(),
		MaxOutputBytes: cfg.Execution.MaxOutputBytes,
	}, logging.For(logger, logging.CategoryTactile))
}

func toolRun(cmd *cobra.Command, name string, pairs []string, dry bool) error {
	params, err := parseAssignments(pairs)
	if err != nil {
		return err
	}

	tool, env, err := action.Validate(action.Action{"tool": name, "params": params})
	if err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	result, err := newToolExecutor().Execute(commandContext(cmd), tool, env, dry)
	if err != nil {
		return err
	}

	events := newEventLogger(clock.System())
	if err := events.Log(streamCLI, map[string]any{
		"tool":       string(tool),
		"params":     params,
		"returncode": result.ExitCode,
		"dry":        dry,
	}); err != nil {
		logging.For(logger, logging.CategoryEventLog).Warn(err.Error())
	}

	if out := strings.TrimSpace(result.Stdout); out != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), errOut)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s exited with %d", tool, result.ExitCode)
	}
	return nil
}

func toolList(cmd *cobra.Command, args []string) error {
	executor := newToolExecutor()
	out := cmd.OutOrStdout()
	for _, tool := range action.Tools {
		path := executor.Path(tool)
		state := "ok"
		if _, err := os.Stat(path); err != nil {
			state = "missing"
		}
		fmt.Fprintf(out, "%-13s %-8s %s\n", tool, state, path)
	}
	return nil
}

