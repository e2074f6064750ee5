// Package config loads pxh configuration: a YAML file, then environment
// overrides, then command-line flags applied by the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the project root when --config is not given.
const DefaultFileName = "pxh.yaml"

// DefaultModelCommand is the model CLI used when nothing else is configured.
const DefaultModelCommand = "codex chat --model gpt-4.1-mini --input -"

// Input modes.
const (
	InputText  = "text"
	InputVoice = "voice"
)

// Config holds all pxh configuration.
type Config struct {
	// ProjectRoot anchors every relative path. Empty means the working
	// directory.
	ProjectRoot string `yaml:"project_root"`

	// BinDir holds the tool-<name> executables.
	BinDir string `yaml:"bin_dir"`

	Session   SessionConfig   `yaml:"session"`
	Logs      LogsConfig      `yaml:"logs"`
	Loop      LoopConfig      `yaml:"loop"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SessionConfig configures the session document.
type SessionConfig struct {
	Path         string `yaml:"path"`
	TemplatePath string `yaml:"template_path"`
	HistoryLimit int    `yaml:"history_limit"`
}

// LogsConfig configures the event log streams.
type LogsConfig struct {
	Dir string `yaml:"dir"`
}

// LoopConfig configures the supervisor loop.
type LoopConfig struct {
	PromptPath         string `yaml:"prompt_path"`
	InputMode          string `yaml:"input_mode"` // text, voice
	ModelCommand       string `yaml:"model_command"`
	TranscriberCommand string `yaml:"transcriber_command"`
	MaxTurns           int    `yaml:"max_turns"`
	DryRun             bool   `yaml:"dry_run"`
	AutoLog            bool   `yaml:"auto_log"`
	ExitOnStop         bool   `yaml:"exit_on_stop"`
	WatchPrompt        bool   `yaml:"watch_prompt"`
}

// ExecutionConfig configures subprocesses. Timeouts are duration strings;
// "0" disables a timeout.
type ExecutionConfig struct {
	ToolTimeout        string `yaml:"tool_timeout"`
	ModelTimeout       string `yaml:"model_timeout"`
	TranscriberTimeout string `yaml:"transcriber_timeout"`
	MaxOutputBytes     int64  `yaml:"max_output_bytes"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BinDir: "bin",

		Session: SessionConfig{
			Path:         "state/session.json",
			TemplatePath: "state/session.template.json",
			HistoryLimit: 100,
		},

		Logs: LogsConfig{
			Dir: "logs",
		},

		Loop: LoopConfig{
			PromptPath:   "docs/prompts/codex-voice-system.md",
			InputMode:    InputText,
			ModelCommand: DefaultModelCommand,
			MaxTurns:     50,
		},

		Execution: ExecutionConfig{
			ToolTimeout:        "30s",
			ModelTimeout:       "120s",
			TranscriberTimeout: "60s",
			MaxOutputBytes:     1 << 20,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("PROJECT_ROOT"); root != "" {
		c.ProjectRoot = root
	}
	if path := os.Getenv("PX_SESSION_PATH"); path != "" {
		c.Session.Path = path
	}
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		c.Logs.Dir = dir
	}
	if cmd := os.Getenv("CODEX_CHAT_CMD"); cmd != "" {
		c.Loop.ModelCommand = cmd
	}
	if cmd := os.Getenv("PX_TRANSCRIBER_CMD"); cmd != "" {
		c.Loop.TranscriberCommand = cmd
	}
}

// Root returns the absolute project root.
func (c *Config) Root() string {
	root := c.ProjectRoot
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

// Resolve anchors a relative path at the project root.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Root(), path)
}

// SessionPath returns the resolved session file path.
func (c *Config) SessionPath() string { return c.Resolve(c.Session.Path) }

// TemplatePath returns the resolved session template path.
func (c *Config) TemplatePath() string { return c.Resolve(c.Session.TemplatePath) }

// LogDir returns the resolved event log directory.
func (c *Config) LogDir() string { return c.Resolve(c.Logs.Dir) }

// ToolDir returns the resolved tool executable directory.
func (c *Config) ToolDir() string { return c.Resolve(c.BinDir) }

// PromptPath returns the resolved system prompt path.
func (c *Config) PromptPath() string { return c.Resolve(c.Loop.PromptPath) }

// GetToolTimeout returns the per-tool timeout as a duration.
func (c *Config) GetToolTimeout() time.Duration {
	return parseDuration(c.Execution.ToolTimeout, 30*time.Second)
}

// GetModelTimeout returns the model CLI timeout as a duration.
func (c *Config) GetModelTimeout() time.Duration {
	return parseDuration(c.Execution.ModelTimeout, 120*time.Second)
}

// GetTranscriberTimeout returns the transcriber timeout as a duration.
func (c *Config) GetTranscriberTimeout() time.Duration {
	return parseDuration(c.Execution.TranscriberTimeout, 60*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Loop.InputMode {
	case InputText, InputVoice:
	default:
		return fmt.Errorf("invalid input mode: %q (valid: %s, %s)", c.Loop.InputMode, InputText, InputVoice)
	}
	if c.Loop.MaxTurns < 0 {
		return fmt.Errorf("max turns must not be negative, got %d", c.Loop.MaxTurns)
	}
	if c.Session.HistoryLimit < 0 {
		return fmt.Errorf("history limit must not be negative, got %d", c.Session.HistoryLimit)
	}
	if c.Execution.MaxOutputBytes < 0 {
		return fmt.Errorf("max output bytes must not be negative, got %d", c.Execution.MaxOutputBytes)
	}
	for name, value := range map[string]string{
		"tool_timeout":        c.Execution.ToolTimeout,
		"model_timeout":       c.Execution.ModelTimeout,
		"transcriber_timeout": c.Execution.TranscriberTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return c.Logging.Validate()
}
