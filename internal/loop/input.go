package loop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pxh/internal/tactile"
)

// InputSource yields one user utterance per call. An empty string means the
// user is done.
type InputSource interface {
	Next(ctx context.Context) (string, error)
}

// TextInput reads typed lines.
type TextInput struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewTextInput reads lines from r and writes the "You> " prompt to out.
func NewTextInput(r io.Reader, out io.Writer) *TextInput {
	return &TextInput{reader: bufio.NewReader(r), out: out}
}

type lineResult struct {
	line string
	err  error
}

func (t *TextInput) Next(ctx context.Context) (string, error) {
	fmt.Fprint(t.out, "You> ")

	ch := make(chan lineResult, 1)
	go func() {
		line, err := t.reader.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return "", fmt.Errorf("read input: %w", r.err)
		}
		return strings.TrimSpace(r.line), nil
	}
}

// VoiceInput runs the transcriber CLI once per turn and uses its stdout as
// the utterance.
type VoiceInput struct {
	runner  tactile.Runner
	command tactile.Command
}

// NewVoiceInput parses the transcriber command line. An empty line is fatal.
func NewVoiceInput(runner tactile.Runner, commandLine string, timeout time.Duration) (*VoiceInput, error) {
	if strings.TrimSpace(commandLine) == "" {
		return nil, fatalf("voice mode requested but --transcriber-cmd not provided")
	}
	cmd, err := tactile.ParseCommandLine(commandLine)
	if err != nil {
		return nil, &FatalError{Msg: "invalid transcriber command", Err: err}
	}
	cmd.Timeout = timeout
	return &VoiceInput{runner: runner, command: cmd}, nil
}

// Next transcribes one utterance. A transcriber that cannot start or exits
// non-zero is fatal; a timeout is returned as is so the turn can be retried.
func (v *VoiceInput) Next(ctx context.Context) (string, error) {
	result, err := v.runner.Run(ctx, v.command)
	if err != nil {
		if errors.Is(err, tactile.ErrTimeout) || ctx.Err() != nil {
			return "", err
		}
		return "", &FatalError{Msg: "transcription failed", Err: err}
	}
	if result.ExitCode != 0 {
		return "", fatalf("transcription failed (rc=%d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}
