// Package eventlog appends structured JSON records to named, append-only
// event streams.
//
// Each stream maps to <dir>/tool-<stream>.log. Tool binaries, health checks
// and the supervisor loop may all append to the same stream at once; every
// append runs under an exclusive lock on <file>.lock so lines never interleave.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"pxh/internal/clock"
	"pxh/internal/filelock"
)

// maxLineBytes bounds a single record when reading a stream back.
const maxLineBytes = 4 * 1024 * 1024

// Logger writes records under a single log root.
type Logger struct {
	dir    string
	clock  clock.Clock
	logger *zap.Logger
}

// New returns a Logger rooted at dir. A nil clock uses the system clock and a
// nil zap logger discards diagnostics.
func New(dir string, c clock.Clock, logger *zap.Logger) *Logger {
	if c == nil {
		c = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{dir: dir, clock: c, logger: logger}
}

// Dir returns the log root.
func (l *Logger) Dir() string {
	return l.dir
}

// Path returns the file backing stream.
func (l *Logger) Path(stream string) (string, error) {
	if err := validateStream(stream); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, "tool-"+stream+".log"), nil
}

// Log appends {"ts": now, ...payload} as one line to stream. A "ts" key in
// payload overrides the generated timestamp.
func (l *Logger) Log(stream string, payload map[string]any) error {
	path, err := l.Path(stream)
	if err != nil {
		return err
	}
	line, err := encodeRecord(clock.Timestamp(l.clock), payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", stream, err)
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	err = filelock.With(path+".lock", func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log %s: %w", path, err)
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("failed to append to log %s: %w", path, err)
		}
		return f.Close()
	})
	if err != nil {
		return err
	}

	l.logger.Debug("event logged", zap.String("stream", stream), zap.Int("bytes", len(line)))
	return nil
}

// Read returns every well-formed record of stream in file order, plus the
// number of lines that could not be decoded. A stream that was never
// written reads as empty.
func (l *Logger) Read(stream string) ([]map[string]any, int, error) {
	path, err := l.Path(stream)
	if err != nil {
		return nil, 0, err
	}
	return ReadFile(path)
}

// ReadFile decodes an NDJSON file the way Read does.
func ReadFile(path string) ([]map[string]any, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	var (
		records []map[string]any
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil || rec == nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("failed to read log %s: %w", path, err)
	}
	return records, skipped, nil
}

func validateStream(stream string) error {
	if stream == "" {
		return errors.New("stream name is empty")
	}
	if strings.ContainsAny(stream, `/\`) || strings.Contains(stream, "..") {
		return fmt.Errorf("invalid stream name %q", stream)
	}
	return nil
}

// encodeRecord renders the record with "ts" as the first key followed by the
// remaining payload keys, terminated by a newline.
func encodeRecord(ts string, payload map[string]any) ([]byte, error) {
	var tsValue any = ts
	rest := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "ts" {
			tsValue = v
			continue
		}
		rest[k] = v
	}

	tsJSON, err := Marshal(tsValue)
	if err != nil {
		return nil, err
	}
	restJSON, err := Marshal(rest)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"ts":`)
	buf.Write(tsJSON)
	if len(rest) > 0 {
		buf.WriteByte(',')
		buf.Write(restJSON[1:])
	} else {
		buf.WriteByte('}')
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Marshal encodes v as compact JSON without HTML escaping, so transcripts
// containing <, > or & stay readable in the log.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
