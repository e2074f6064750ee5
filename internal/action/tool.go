package action

// Tool is one of the closed set of hardware tools the loop may run.
type Tool string

const (
	ToolStatus  Tool = "tool_status"
	ToolCircle  Tool = "tool_circle"
	ToolFigure8 Tool = "tool_figure8"
	ToolStop    Tool = "tool_stop"
	ToolVoice   Tool = "tool_voice"
	ToolWeather Tool = "tool_weather"
)

// Tools lists every allow-listed tool.
var Tools = []Tool{ToolStatus, ToolCircle, ToolFigure8, ToolStop, ToolVoice, ToolWeather}

// Env is the environment handed to a tool process. Tools read their
// configuration from the environment only; nothing goes on the command line.
type Env map[string]string

// Environment keys understood by the tool binaries.
const (
	EnvDry      = "PX_DRY"
	EnvSpeed    = "PX_SPEED"
	EnvDuration = "PX_DURATION"
	EnvRest     = "PX_REST"
	EnvText     = "PX_TEXT"
)

// ParseTool maps a name to its Tool.
func ParseTool(name string) (Tool, bool) {
	for _, t := range Tools {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// Executable is the binary name of the tool, e.g. tool-figure8.
func (t Tool) Executable() string {
	b := []byte(t)
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// IsMotion reports whether the tool drives the wheels.
func (t Tool) IsMotion() bool {
	return t == ToolCircle || t == ToolFigure8 || t == ToolStop
}
