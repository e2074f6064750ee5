// Command pxh drives the PiCar-X supervisor: the voice/text loop, the session
// document, event log reports and one-off tool runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pxh/internal/clock"
	"pxh/internal/config"
	"pxh/internal/eventlog"
	"pxh/internal/logging"
	"pxh/internal/loop"
	"pxh/internal/session"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Resolved in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pxh",
		Short: "PiCar-X supervisor: voice loop, session state and event logs",
		Long: `pxh turns typed or transcribed requests into validated robot tool runs.

The model proposes one JSON action per turn; only allow-listed tools with
in-range parameters are executed. Session state lives in a single JSON
document and every run is recorded in NDJSON event streams.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(configPath)
			if err != nil {
				return err
			}

			logger, err = logging.New(cfg.Logging, verbose)
			if err != nil {
				return err
			}
			logging.For(logger, logging.CategoryBoot).Debug("configuration loaded",
				zap.String("project_root", cfg.Root()),
				zap.String("session", cfg.SessionPath()),
				zap.String("logs", cfg.LogDir()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <project-root>/pxh.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newLoopCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newToolCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

// loadConfig reads path, or pxh.yaml in the project root when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		root := os.Getenv("PROJECT_ROOT")
		if root == "" {
			root = "."
		}
		path = filepath.Join(root, config.DefaultFileName)
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// newEventLogger opens the event log root of the current config.
func newEventLogger(clk clock.Clock) *eventlog.Logger {
	return eventlog.New(cfg.LogDir(), clk, logging.For(logger, logging.CategoryEventLog))
}

// newSessionStore opens the session document. Corruption resets are reported
// on the "session" stream.
func newSessionStore(clk clock.Clock, events *eventlog.Logger) *session.Store {
	sessionLogger := logging.For(logger, logging.CategorySession)
	return session.NewStore(session.Options{
		Path:         cfg.SessionPath(),
		TemplatePath: cfg.TemplatePath(),
		HistoryLimit: cfg.Session.HistoryLimit,
		Clock:        clk,
		Logger:       sessionLogger,
		OnReset: func(path string, cause error) {
			err := events.Log(loop.StreamSession, map[string]any{
				"event": "session_reset",
				"path":  path,
				"cause": cause.Error(),
			})
			if err != nil {
				sessionLogger.Warn("failed to record session reset", zap.Error(err))
			}
		},
	})
}

// commandContext returns the command's context, or Background when the
// command was invoked directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// exitCode maps a command error to the process exit status: 2 for fatal loop
// errors, 1 for anything else.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var fatal *loop.FatalError
	if errors.As(err, &fatal) {
		fmt.Fprintf(stderr, "voice-loop error: %s\n", fatal.Error())
		return 2
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	return exitCode(rootCmd.ExecuteContext(ctx), os.Stderr)
}

func main() {
	os.Exit(run(os.Args[1:]))
}
