package loop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// PromptSource supplies the system prompt for each turn.
type PromptSource interface {
	Prompt() string
}

// StaticPrompt is a prompt read once at startup.
type StaticPrompt string

func (p StaticPrompt) Prompt() string { return string(p) }

// LoadPrompt reads and trims the system prompt file. A missing file is fatal.
func LoadPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fatalf("prompt file missing: %s", path)
		}
		return "", &FatalError{Msg: "failed to read prompt file", Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}

// PromptWatcher serves the prompt file and rereads it after it changes on
// disk. The directory is watched rather than the file so editors that save by
// rename are still seen.
type PromptWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.Mutex
	current string
	stale   atomic.Bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// WatchPrompt loads path and starts watching it. Close stops the watcher.
func WatchPrompt(path string, logger *zap.Logger) (*PromptWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve prompt path: %w", err)
	}
	initial, err := LoadPrompt(abs)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create prompt watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	pw := &PromptWatcher{
		path:    abs,
		watcher: watcher,
		logger:  logger,
		current: initial,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go pw.run()
	logger.Debug("watching prompt file", zap.String("path", abs))
	return pw, nil
}

func (pw *PromptWatcher) run() {
	defer close(pw.doneCh)
	for {
		select {
		case <-pw.stopCh:
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pw.stale.Store(true)
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn("prompt watcher error", zap.Error(err))
		}
	}
}

// Prompt returns the latest prompt. When the file changed since the last call
// it is reread; a failed reread keeps the previous prompt.
func (pw *PromptWatcher) Prompt() string {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.stale.Swap(false) {
		text, err := LoadPrompt(pw.path)
		if err != nil {
			pw.logger.Warn("prompt reload failed; keeping previous prompt", zap.Error(err))
		} else {
			pw.current = text
			pw.logger.Info("prompt reloaded", zap.String("path", pw.path))
		}
	}
	return pw.current
}

// Close stops watching. It is safe to call more than once.
func (pw *PromptWatcher) Close() error {
	var err error
	pw.closeOnce.Do(func() {
		close(pw.stopCh)
		<-pw.doneCh
		err = pw.watcher.Close()
	})
	return err
}
