package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"pxh/internal/clock"
	"pxh/internal/config"
	"pxh/internal/logging"
	"pxh/internal/loop"
	"pxh/internal/tactile"
)

type loopFlags struct {
	prompt         string
	inputMode      string
	transcriberCmd string
	codexCmd       string
	maxTurns       int
	dryRun         bool
	autoLog        bool
	exitOnStop     bool
	watchPrompt    bool
}

func newLoopCmd() *cobra.Command {
	var flags loopFlags

	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run the supervisor loop",
		Long: `Reads one utterance per turn (typed, or from the transcriber), asks the
model CLI for a single JSON action, validates it and runs the matching tool.

Example:
  pxh loop --dry-run --auto-log
  pxh loop --input-mode voice --transcriber-cmd "whisper-cli --stdout" --exit-on-stop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd.Flags(), cfg)
			return runLoop(cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.prompt, "prompt", "", "System prompt file (default: loop.prompt_path)")
	f.StringVar(&flags.inputMode, "input-mode", config.InputText, "Input source: text or voice")
	f.StringVar(&flags.transcriberCmd, "transcriber-cmd", "", "Transcriber command line for voice mode (or set PX_TRANSCRIBER_CMD)")
	f.StringVar(&flags.codexCmd, "codex-cmd", config.DefaultModelCommand, "Model CLI command line; the prompt is sent on stdin (or set CODEX_CHAT_CMD)")
	f.IntVar(&flags.maxTurns, "max-turns", 50, "Maximum number of turns")
	f.BoolVar(&flags.dryRun, "dry-run", false, "Run every tool with PX_DRY=1")
	f.BoolVar(&flags.autoLog, "auto-log", false, "Record raw model output in the voice-loop stream")
	f.BoolVar(&flags.exitOnStop, "exit-on-stop", false, "Exit after a successful tool_stop")
	f.BoolVar(&flags.watchPrompt, "watch-prompt", false, "Reload the prompt file when it changes")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (lf *loopFlags) apply(fs *pflag.FlagSet, c *config.Config) {
	if fs.Changed("prompt") {
		c.Loop.PromptPath = lf.prompt
	}
	if fs.Changed("input-mode") {
		c.Loop.InputMode = lf.inputMode
	}
	if fs.Changed("transcriber-cmd") {
		c.Loop.TranscriberCommand = lf.transcriberCmd
	}
	if fs.Changed("codex-cmd") {
		c.Loop.ModelCommand = lf.codexCmd
	}
	if fs.Changed("max-turns") {
		c.Loop.MaxTurns = lf.maxTurns
	}
	if fs.Changed("dry-run") {
		c.Loop.DryRun = lf.dryRun
	}
	if fs.Changed("auto-log") {
		c.Loop.AutoLog = lf.autoLog
	}
	if fs.Changed("exit-on-stop") {
		c.Loop.ExitOnStop = lf.exitOnStop
	}
	if fs.Changed("watch-prompt") {
		c.Loop.WatchPrompt = lf.watchPrompt
	}
}

func runLoop(cmd *cobra.Command) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	clk := clock.System()
	loopLogger := logging.For(logger, logging.CategoryLoop)
	tactileLogger := logging.For(logger, logging.CategoryTactile)
	events := newEventLogger(clk)
	store := newSessionStore(clk, events)

	if _, err := store.Ensure(); err != nil {
		return err
	}

	var prompt loop.PromptSource
	if cfg.Loop.WatchPrompt {
		watcher, err := loop.WatchPrompt(cfg.PromptPath(), loopLogger)
		if err != nil {
			return err
		}
		defer watcher.Close()
		prompt = watcher
	} else {
		text, err := loop.LoadPrompt(cfg.PromptPath())
		if err != nil {
			return err
		}
		prompt = loop.StaticPrompt(text)
	}

	runner := tactile.NewDirectExecutor(cfg.Execution.MaxOutputBytes, tactileLogger)

	var input loop.InputSource
	if cfg.Loop.InputMode == config.InputVoice {
		voice, err := loop.NewVoiceInput(runner, cfg.Loop.TranscriberCommand, cfg.GetTranscriberTimeout())
		if err != nil {
			return err
		}
		input = voice
	} else {
		input = loop.NewTextInput(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	model, err := loop.NewModelCLI(runner, cfg.Loop.ModelCommand, cfg.GetModelTimeout())
	if err != nil {
		return err
	}

	tools := newToolExecutor()

	runID := uuid.NewString()
	loopLogger.Info("starting loop",
		zap.String("run_id", runID),
		zap.String("input_mode", cfg.Loop.InputMode),
		zap.String("bin_dir", cfg.ToolDir()))

	supervisor := loop.New(loop.Options{
		MaxTurns:     cfg.Loop.MaxTurns,
		DryRun:       cfg.Loop.DryRun,
		AutoLog:      cfg.Loop.AutoLog,
		ExitOnStop:   cfg.Loop.ExitOnStop,
		HistoryLimit: cfg.Session.HistoryLimit,
		RunID:        runID,
	}, loop.Dependencies{
		Session: store,
		Events:  events,
		Tools:   tools,
		Model:   model,
		Input:   input,
		Prompt:  prompt,
		Clock:   clk,
		Stdout:  cmd.OutOrStdout(),
		Stderr:  cmd.ErrOrStderr(),
		Logger:  loopLogger,
	})

	err = supervisor.Run(commandContext(cmd))
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.OutOrStdout(), "[voice-loop] Interrupted, exiting.")
		return nil
	}
	return err
}
