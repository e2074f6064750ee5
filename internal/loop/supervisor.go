// Package loop runs the supervisor: each turn reads one utterance, asks the
// model for a single action, validates it and runs the matching tool.
//
// Only FatalError and context cancellation end a run early. Model failures,
// bad or missing actions and tool errors are reported as one "[voice-loop]"
// line on stdout and the next turn starts.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"pxh/internal/action"
	"pxh/internal/clock"
	"pxh/internal/session"
	"pxh/internal/tactile"
)

// Event streams written by the loop.
const (
	StreamVoiceLoop       = "voice-loop"
	StreamVoiceTranscript = "voice-transcript"
	StreamSession         = "session"
)

const (
	// outputTail bounds model output copied into auto-log records.
	outputTail = 4000

	// excerptLen bounds the transcript stored as last_prompt_excerpt.
	excerptLen = 200
)

// SessionStore is the subset of *session.Store the loop uses.
type SessionStore interface {
	Ensure() (string, error)
	Load() (session.Document, error)
	Update(fields, entry map[string]any, limit int) (session.Document, error)
}

// EventLogger appends records to named streams.
type EventLogger interface {
	Log(stream string, payload map[string]any) error
}

// Options control a run.
type Options struct {
	MaxTurns     int
	DryRun       bool
	AutoLog      bool
	ExitOnStop   bool
	HistoryLimit int

	// RunID is attached to every event record of the run.
	RunID string
}

// Dependencies are the collaborators of a Supervisor. Stdout and Stderr
// receive the user-facing output; Logger receives operator diagnostics.
type Dependencies struct {
	Session SessionStore
	Events  EventLogger
	Tools   tactile.ToolRunner
	Model   Model
	Input   InputSource
	Prompt  PromptSource
	Clock   clock.Clock
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *zap.Logger
}

// Supervisor runs turns until input ends, a stop is acknowledged or the turn
// budget is spent.
type Supervisor struct {
	opts Options
	deps Dependencies
}

// New creates a Supervisor. Nil clock, writers and logger get defaults.
func New(opts Options, deps Dependencies) *Supervisor {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Stdout == nil {
		deps.Stdout = io.Discard
	}
	if deps.Stderr == nil {
		deps.Stderr = io.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Supervisor{opts: opts, deps: deps}
}

// Run executes up to MaxTurns turns.
func (s *Supervisor) Run(ctx context.Context) error {
	if _, err := s.deps.Session.Ensure(); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	s.deps.Logger.Info("supervisor starting",
		zap.String("run_id", s.opts.RunID),
		zap.Int("max_turns", s.opts.MaxTurns),
		zap.Bool("dry", s.opts.DryRun))

	for turn := 1; turn <= s.opts.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := s.runTurn(ctx, turn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	s.deps.Logger.Info("turn budget spent", zap.Int("max_turns", s.opts.MaxTurns))
	return nil
}

// runTurn executes one turn. done reports that the loop should end normally.
func (s *Supervisor) runTurn(ctx context.Context, turn int) (done bool, err error) {
	logger := s.deps.Logger.With(zap.Int("turn", turn))

	state, err := s.deps.Session.Load()
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	heartbeat := map[string]any{"watchdog_heartbeat_ts": clock.Timestamp(s.deps.Clock)}
	if _, err := s.deps.Session.Update(heartbeat, nil, s.opts.HistoryLimit); err != nil {
		return false, fmt.Errorf("update heartbeat: %w", err)
	}

	transcript, err := s.deps.Input.Next(ctx)
	if err != nil {
		var fatal *FatalError
		switch {
		case errors.As(err, &fatal), ctx.Err() != nil:
			return false, err
		case errors.Is(err, tactile.ErrTimeout):
			s.say("Transcription error: %v", err)
			return false, nil
		default:
			return false, err
		}
	}
	if transcript == "" {
		s.say("No input, exiting.")
		return true, nil
	}
	logger.Debug("input captured", zap.Int("chars", len([]rune(transcript))))

	prompt := BuildPrompt(s.deps.Prompt.Prompt(), state, transcript)
	reply, err := s.deps.Model.Complete(ctx, prompt)
	if reply != nil && s.opts.AutoLog {
		s.logEvent(StreamVoiceLoop, map[string]any{
			"turn":     turn,
			"model_rc": reply.ExitCode,
			"stdout":   tail(reply.Stdout, outputTail),
			"stderr":   tail(reply.Stderr, outputTail),
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.say("Codex CLI error: %v", err)
		return false, nil
	}
	if reply.ExitCode != 0 {
		s.say("Codex CLI exited with %d: %s", reply.ExitCode, strings.TrimSpace(reply.Stderr))
		return false, nil
	}

	act, ok := action.Extract(reply.Stdout)
	if !ok {
		s.say("No JSON action detected; ignoring response.")
		return false, nil
	}

	tool, env, err := action.Validate(act)
	if err != nil {
		s.say("Invalid action: %v", err)
		return false, nil
	}

	result, err := s.deps.Tools.Execute(ctx, tool, env, s.opts.DryRun)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.say("Execution error: %v", err)
		return false, nil
	}

	s.logEvent(StreamVoiceLoop, map[string]any{
		"turn":       turn,
		"tool":       string(tool),
		"returncode": result.ExitCode,
		"dry":        s.opts.DryRun,
	})
	s.echo(result)
	logger.Info("tool finished",
		zap.String("tool", string(tool)),
		zap.Int("returncode", result.ExitCode))

	payload, _ := action.ParseLastLine(result.Stdout)
	s.recordTurn(turn, transcript, act, tool, result, payload)

	var voiceResult map[string]any
	if tool == action.ToolWeather {
		voiceResult = s.announceWeather(ctx, turn, payload)
	}

	transcriptRecord := map[string]any{
		"turn":         turn,
		"transcript":   transcript,
		"tool":         string(tool),
		"returncode":   result.ExitCode,
		"dry":          s.opts.DryRun,
		"tool_payload": payloadOrNil(payload),
	}
	if voiceResult != nil {
		transcriptRecord["voice_result"] = voiceResult
	}
	s.logEvent(StreamVoiceTranscript, transcriptRecord)

	if s.opts.ExitOnStop && tool == action.ToolStop && result.ExitCode == 0 {
		s.say("Stop command acknowledged. Exiting loop.")
		return true, nil
	}
	return false, nil
}

// announceWeather speaks the weather summary through the voice tool. It never
// fails the turn; the returned map is nil when nothing ran.
func (s *Supervisor) announceWeather(ctx context.Context, turn int, payload map[string]any) map[string]any {
	summary, _ := payload["summary"].(string)
	if summary == "" {
		return nil
	}

	tool, env, err := action.Validate(action.Action{
		"tool":   string(action.ToolVoice),
		"params": map[string]any{"text": summary},
	})
	if err != nil {
		s.say("Voice execution error: %v", err)
		return nil
	}

	result, err := s.deps.Tools.Execute(ctx, tool, env, s.opts.DryRun)
	if err != nil {
		s.say("Voice execution error: %v", err)
		return map[string]any{"error": err.Error()}
	}

	s.logEvent(StreamVoiceLoop, map[string]any{
		"turn":       turn,
		"tool":       string(tool),
		"returncode": result.ExitCode,
		"dry":        s.opts.DryRun,
		"chained":    true,
	})
	s.echo(result)
	return map[string]any{"returncode": result.ExitCode}
}

// recordTurn folds the executed action into the session document.
func (s *Supervisor) recordTurn(turn int, transcript string, act action.Action, tool action.Tool, result *tactile.ExecutionResult, payload map[string]any) {
	fields := map[string]any{
		"last_action":         string(tool),
		"last_model_action":   map[string]any(act),
		"last_tool_payload":   payloadOrNil(payload),
		"last_prompt_excerpt": head(transcript, excerptLen),
	}
	if tool.IsMotion() {
		fields["last_motion"] = tool.Executable()
	}
	if tool == action.ToolWeather && payload != nil {
		fields["last_weather"] = payload
	}
	if tool == action.ToolStatus {
		for _, key := range []string{"battery_pct", "battery_ok"} {
			if v, ok := payload[key]; ok {
				fields[key] = v
			}
		}
	}

	entry := map[string]any{
		"event":      "voice_loop",
		"turn":       turn,
		"tool":       string(tool),
		"returncode": result.ExitCode,
		"dry":        s.opts.DryRun,
	}
	if _, err := s.deps.Session.Update(fields, entry, s.opts.HistoryLimit); err != nil {
		s.deps.Logger.Warn("session update failed",
			zap.Int("turn", turn),
			zap.String("tool", string(tool)),
			zap.Error(err))
	}
}

// logEvent appends a record tagged with the run ID. Failures are diagnostics
// only; a turn never fails because its log line could not be written.
func (s *Supervisor) logEvent(stream string, payload map[string]any) {
	if s.opts.RunID != "" {
		payload["run_id"] = s.opts.RunID
	}
	if err := s.deps.Events.Log(stream, payload); err != nil {
		s.deps.Logger.Warn("event log write failed",
			zap.String("stream", stream),
			zap.Error(err))
	}
}

// echo forwards trimmed tool output to the user.
func (s *Supervisor) echo(result *tactile.ExecutionResult) {
	if out := strings.TrimSpace(result.Stdout); out != "" {
		fmt.Fprintln(s.deps.Stdout, out)
	}
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		fmt.Fprintln(s.deps.Stderr, errOut)
	}
}

// say prints a "[voice-loop]" status line.
func (s *Supervisor) say(format string, args ...any) {
	fmt.Fprintf(s.deps.Stdout, "[voice-loop] "+format+"\n", args...)
}

// payloadOrNil keeps a missing payload as JSON null rather than {}.
func payloadOrNil(payload map[string]any) any {
	if payload == nil {
		return nil
	}
	return payload
}
