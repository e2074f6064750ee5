package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"pxh/internal/clock"
	"pxh/internal/filelock"
)

// errNotObject marks a file that parsed as JSON but is not an object.
var errNotObject = errors.New("session document is not a JSON object")

// Options configures a Store.
type Options struct {
	// Path is the session file.
	Path string

	// TemplatePath seeds a missing session file when it exists. Optional.
	TemplatePath string

	// HistoryLimit is the default cap passed to Update when the caller
	// supplies a non-positive limit. Zero means DefaultHistoryLimit.
	HistoryLimit int

	Clock  clock.Clock
	Logger *zap.Logger

	// OnReset is called after a corrupted document was replaced with the
	// default. cause is the decode error.
	OnReset func(path string, cause error)
}

// Store reads and writes the session document. Update, Save, Reset and
// corruption recovery run under an exclusive lock on <path>.lock, so
// concurrent processes never lose each other's read-merge-write cycles.
type Store struct {
	path         string
	templatePath string
	historyLimit int
	clock        clock.Clock
	logger       *zap.Logger
	onReset      func(string, error)
}

// NewStore returns a Store for opts.
func NewStore(opts Options) *Store {
	s := &Store{
		path:         opts.Path,
		templatePath: opts.TemplatePath,
		historyLimit: opts.HistoryLimit,
		clock:        opts.Clock,
		logger:       opts.Logger,
		onReset:      opts.OnReset,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Path returns the session file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// Ensure creates the session file when it is missing, from the template if
// one is configured and present, else from DefaultDocument.
func (s *Store) Ensure() (string, error) {
	if s.path == "" {
		return "", errors.New("session path is not configured")
	}
	if _, err := os.Stat(s.path); err == nil {
		return s.path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat session file: %w", err)
	}
	if err := filelock.With(s.lockPath(), s.ensureLocked); err != nil {
		return "", err
	}
	return s.path, nil
}

func (s *Store) ensureLocked() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	if s.templatePath != "" {
		data, err := os.ReadFile(s.templatePath)
		if err == nil {
			s.logger.Info("seeding session from template",
				zap.String("path", s.path), zap.String("template", s.templatePath))
			return atomicWriteFile(s.path, data)
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read session template: %w", err)
		}
	}

	s.logger.Info("seeding session with defaults", zap.String("path", s.path))
	return s.write(DefaultDocument())
}

// Load returns the current document. A document that cannot be decoded is
// replaced on disk by DefaultDocument, which is returned without error.
func (s *Store) Load() (Document, error) {
	if _, err := s.Ensure(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if doc, err := decode(data); err == nil {
		return doc, nil
	}

	var doc Document
	err = filelock.With(s.lockPath(), func() error {
		var err error
		doc, err = s.loadLocked()
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// loadLocked reads the document while the caller holds the session lock,
// repairing corruption in place.
func (s *Store) loadLocked() (Document, error) {
	if err := s.ensureLocked(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	doc, cause := decode(data)
	if cause == nil {
		return doc, nil
	}

	doc = DefaultDocument()
	if err := s.write(doc); err != nil {
		return nil, fmt.Errorf("failed to reset corrupted session: %w", err)
	}
	s.logger.Warn("session document corrupted; reset to defaults",
		zap.String("path", s.path), zap.Error(cause))
	if s.onReset != nil {
		s.onReset(s.path, cause)
	}
	return doc, nil
}

// Save replaces the stored document with doc.
func (s *Store) Save(doc Document) error {
	if s.path == "" {
		return errors.New("session path is not configured")
	}
	return filelock.With(s.lockPath(), func() error {
		return s.write(doc)
	})
}

// Reset overwrites the stored document with DefaultDocument.
func (s *Store) Reset() (Document, error) {
	doc := DefaultDocument()
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Update merges fields into the document (shallow key overwrite), appends
// {"ts": now, ...entry} to history when entry is non-empty, keeps only the
// newest limit history entries and persists the result. A non-positive limit
// uses the store's configured limit.
func (s *Store) Update(fields, entry map[string]any, limit int) (Document, error) {
	if s.path == "" {
		return nil, errors.New("session path is not configured")
	}
	if limit <= 0 {
		limit = s.historyLimit
	}

	var doc Document
	err := filelock.With(s.lockPath(), func() error {
		var err error
		doc, err = s.loadLocked()
		if err != nil {
			return err
		}

		for k, v := range fields {
			doc[k] = v
		}

		history, _ := doc["history"].([]any)
		if len(entry) > 0 {
			record := make(map[string]any, len(entry)+1)
			record["ts"] = clock.Timestamp(s.clock)
			for k, v := range entry {
				record[k] = v
			}
			history = append(history, record)
		}
		if len(history) > limit {
			trimmed := make([]any, limit)
			copy(trimmed, history[len(history)-limit:])
			history = trimmed
		}
		if history == nil {
			history = []any{}
		}
		doc["history"] = history

		return s.write(doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) write(doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := atomicWriteFile(s.path, data); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Encode renders doc with two-space indentation and a trailing newline.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errNotObject
	}
	return doc, nil
}

// atomicWriteFile writes data to a temp file beside filename and renames it
// into place, so readers never observe a partially written document.
func atomicWriteFile(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
