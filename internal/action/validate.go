package action

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxVoiceText is the longest text handed to the voice tool, in characters.
const MaxVoiceText = 180

// ValidationError explains why an action was rejected.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(tool Tool, format string, args ...any) *ValidationError {
	return &ValidationError{Tool: string(tool), Reason: fmt.Sprintf(format, args...)}
}

type bounds struct {
	min, max float64
}

func (b bounds) contains(v float64) bool {
	return v >= b.min && v <= b.max
}

var (
	speedBounds    = bounds{0, 60}
	durationBounds = bounds{1, 12}
	restBounds     = bounds{0, 5}
)

const (
	defaultSpeed    = 30.0
	defaultDuration = 6.0
	defaultRest     = 1.5
)

// schemas maps every allow-listed tool to its parameter check.
var schemas = map[Tool]func(Tool, map[string]any) (Env, error){
	ToolStatus:  noParams,
	ToolStop:    noParams,
	ToolWeather: noParams,
	ToolCircle:  motionParams,
	ToolFigure8: motionParams,
	ToolVoice:   voiceParams,
}

// Validate checks a against the allow-list and the tool's parameter schema and
// returns the environment overrides for the tool process.
func Validate(a Action) (Tool, Env, error) {
	name := a.Tool()
	tool, ok := ParseTool(name)
	if !ok {
		if _, present := a["tool"]; present && name == "" {
			return "", nil, &ValidationError{Reason: fmt.Sprintf("unsupported tool requested: %v", a["tool"])}
		}
		return "", nil, &ValidationError{Tool: name, Reason: fmt.Sprintf("unsupported tool requested: %s", name)}
	}

	params, err := a.Params()
	if err != nil {
		return "", nil, invalid(tool, "%s %v", tool, err)
	}

	env, err := schemas[tool](tool, params)
	if err != nil {
		return "", nil, err
	}
	return tool, env, nil
}

func noParams(tool Tool, params map[string]any) (Env, error) {
	if len(params) > 0 {
		return nil, invalid(tool, "unexpected parameters for tool %s", tool)
	}
	return Env{}, nil
}

func motionParams(tool Tool, params map[string]any) (Env, error) {
	speedRaw, err := number(tool, params, "speed", defaultSpeed)
	if err != nil {
		return nil, err
	}
	// Speeds truncate toward zero: 60.9 drives at 60.
	speed := math.Trunc(speedRaw)
	if !speedBounds.contains(speed) {
		return nil, invalid(tool, "%s speed out of range", tool)
	}

	duration, err := number(tool, params, "duration", defaultDuration)
	if err != nil {
		return nil, err
	}
	if !durationBounds.contains(duration) {
		return nil, invalid(tool, "%s duration out of range", tool)
	}

	env := Env{
		EnvSpeed:    strconv.Itoa(int(speed)),
		EnvDuration: fmt.Sprintf("%.2f", duration),
	}

	if tool == ToolFigure8 {
		rest, err := number(tool, params, "rest", defaultRest)
		if err != nil {
			return nil, err
		}
		if !restBounds.contains(rest) {
			return nil, invalid(tool, "%s rest out of range", tool)
		}
		env[EnvRest] = fmt.Sprintf("%.2f", rest)
	}
	return env, nil
}

func voiceParams(tool Tool, params map[string]any) (Env, error) {
	text, ok := params["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, invalid(tool, "%s requires a non-empty text parameter", tool)
	}
	if utf8.RuneCountInString(text) > MaxVoiceText {
		text = string([]rune(text)[:MaxVoiceText])
	}
	return Env{EnvText: text}, nil
}

// number coerces params[key] to a float, accepting JSON numbers and numeric
// strings. A missing key yields def.
func number(tool Tool, params map[string]any, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalid(tool, "%s %s is not a number: %q", tool, key, v.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalid(tool, "%s %s is not a number: %q", tool, key, v)
		}
		return f, nil
	default:
		return 0, invalid(tool, "%s %s must be a number, got %T", tool, key, raw)
	}
}
