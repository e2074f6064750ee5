package action

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name     string
		action   Action
		wantTool Tool
		wantEnv  Env
	}{
		{"status without params", Action{"tool": "tool_status", "params": map[string]any{}}, ToolStatus, Env{}},
		{"stop with missing params", Action{"tool": "tool_stop"}, ToolStop, Env{}},
		{"weather with null params", Action{"tool": "tool_weather", "params": nil}, ToolWeather, Env{}},
		{
			"circle defaults",
			Action{"tool": "tool_circle"},
			ToolCircle,
			Env{EnvSpeed: "30", EnvDuration: "6.00"},
		},
		{
			"circle upper speed and lower duration",
			Action{"tool": "tool_circle", "params": map[string]any{"speed": 60.0, "duration": 1.0}},
			ToolCircle,
			Env{EnvSpeed: "60", EnvDuration: "1.00"},
		},
		{
			"circle speed truncates",
			Action{"tool": "tool_circle", "params": map[string]any{"speed": 60.9, "duration": 12.0}},
			ToolCircle,
			Env{EnvSpeed: "60", EnvDuration: "12.00"},
		},
		{
			"circle numeric strings",
			Action{"tool": "tool_circle", "params": map[string]any{"speed": " 26 ", "duration": "3"}},
			ToolCircle,
			Env{EnvSpeed: "26", EnvDuration: "3.00"},
		},
		{
			"figure8 defaults",
			Action{"tool": "tool_figure8"},
			ToolFigure8,
			Env{EnvSpeed: "30", EnvDuration: "6.00", EnvRest: "1.50"},
		},
		{
			"figure8 bounds",
			Action{"tool": "tool_figure8", "params": map[string]any{"speed": 0.0, "duration": 12.0, "rest": 5.0}},
			ToolFigure8,
			Env{EnvSpeed: "0", EnvDuration: "12.00", EnvRest: "5.00"},
		},
		{
			"voice",
			Action{"tool": "tool_voice", "params": map[string]any{"text": "Hello PiCar-X"}},
			ToolVoice,
			Env{EnvText: "Hello PiCar-X"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, env, err := Validate(tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTool, tool)
			assert.Equal(t, tt.wantEnv, env)
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		reason string
	}{
		{"missing tool", Action{"params": map[string]any{}}, "unsupported tool requested"},
		{"unknown tool", Action{"tool": "rm -rf /"}, "unsupported tool requested: rm -rf /"},
		{"non-string tool", Action{"tool": 7.0}, "unsupported tool requested: 7"},
		{"params not object", Action{"tool": "tool_circle", "params": "fast"}, "params must be an object"},
		{"circle speed too high", Action{"tool": "tool_circle", "params": map[string]any{"speed": 61.0}}, "speed out of range"},
		{"circle speed negative", Action{"tool": "tool_circle", "params": map[string]any{"speed": -1.0}}, "speed out of range"},
		{"circle duration too short", Action{"tool": "tool_circle", "params": map[string]any{"duration": 0.99}}, "duration out of range"},
		{"circle duration too long", Action{"tool": "tool_circle", "params": map[string]any{"duration": 12.01}}, "duration out of range"},
		{"circle speed not numeric", Action{"tool": "tool_circle", "params": map[string]any{"speed": "fast"}}, "speed is not a number"},
		{"circle speed bool", Action{"tool": "tool_circle", "params": map[string]any{"speed": true}}, "speed must be a number"},
		{"circle speed NaN", Action{"tool": "tool_circle", "params": map[string]any{"speed": "NaN"}}, "speed out of range"},
		{"figure8 rest too long", Action{"tool": "tool_figure8", "params": map[string]any{"rest": 5.5}}, "rest out of range"},
		{"figure8 rest negative", Action{"tool": "tool_figure8", "params": map[string]any{"rest": -0.1}}, "rest out of range"},
		{"voice missing text", Action{"tool": "tool_voice"}, "requires a non-empty text"},
		{"voice blank text", Action{"tool": "tool_voice", "params": map[string]any{"text": "  \t"}}, "requires a non-empty text"},
		{"voice non-string text", Action{"tool": "tool_voice", "params": map[string]any{"text": 42.0}}, "requires a non-empty text"},
		{"status with params", Action{"tool": "tool_status", "params": map[string]any{"verbose": true}}, "unexpected parameters"},
		{"stop with params", Action{"tool": "tool_stop", "params": map[string]any{"now": 1.0}}, "unexpected parameters"},
		{"weather with params", Action{"tool": "tool_weather", "params": map[string]any{"city": "Grove"}}, "unexpected parameters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, env, err := Validate(tt.action)
			require.Error(t, err)
			assert.Empty(t, tool)
			assert.Nil(t, env)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tt.reason)
		})
	}
}

func TestValidateVoiceTruncates(t *testing.T) {
	text := strings.Repeat("abcde", 50)
	require.Len(t, text, 250)

	_, env, err := Validate(Action{"tool": "tool_voice", "params": map[string]any{"text": text}})
	require.NoError(t, err)
	assert.Equal(t, text[:MaxVoiceText], env[EnvText])
}

func TestValidateVoiceTruncatesByCharacter(t *testing.T) {
	text := strings.Repeat("é", 200)

	_, env, err := Validate(Action{"tool": "tool_voice", "params": map[string]any{"text": text}})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", MaxVoiceText), env[EnvText])
}
