package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pxh/internal/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		verbose bool
		want    zapcore.Level
	}{
		{"default info", config.LoggingConfig{}, false, zapcore.InfoLevel},
		{"configured warn", config.LoggingConfig{Level: "warn"}, false, zapcore.WarnLevel},
		{"verbose wins", config.LoggingConfig{Level: "error"}, true, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.File = filepath.Join(t.TempDir(), "pxh.log")
			logger, err := New(cfg, tt.verbose)
			require.NoError(t, err)
			assert.Equal(t, tt.want, zapcore.LevelOf(logger.Core()))
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"}, false)
	assert.Error(t, err)
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pxh.log")
	logger, err := New(config.LoggingConfig{File: path}, false)
	require.NoError(t, err)

	For(logger, CategoryLoop).Info("turn finished", zap.Int("turn", 3))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "turn finished", entry["msg"])
	assert.Equal(t, "loop", entry["logger"])
	assert.Equal(t, float64(3), entry["turn"])
}

func TestFor_NilParent(t *testing.T) {
	logger := For(nil, CategorySession)
	require.NotNil(t, logger)
	logger.Info("discarded")
}
