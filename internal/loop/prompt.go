package loop

import (
	"bytes"
	"encoding/json"
	"strings"

	"pxh/internal/session"
)

// recentEvents is how many history entries the model sees.
const recentEvents = 3

// highlightKeys are copied from the session into the highlights block.
var highlightKeys = []string{
	"mode",
	"confirm_motion_allowed",
	"wheels_on_blocks",
	"battery_pct",
	"battery_ok",
	"last_motion",
	"last_action",
}

// BuildPrompt renders the model input: the system prompt, a highlights block
// with the safety-relevant fields, the latest history entries, the session
// without its history, and the user's transcript.
func BuildPrompt(system string, state session.Document, transcript string) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")

	b.WriteString("Current highlights: ")
	b.WriteString(indentJSON(highlights(state)))
	b.WriteString("\n")

	if history := state.History(); len(history) > 0 {
		if len(history) > recentEvents {
			history = history[len(history)-recentEvents:]
		}
		b.WriteString("Recent events: ")
		b.WriteString(indentJSON(history))
		b.WriteString("\n")
	}

	b.WriteString("Current state: ")
	b.WriteString(indentJSON(state.WithoutHistory()))
	b.WriteString("\n")

	b.WriteString("User transcript: ")
	b.WriteString(transcript)
	b.WriteString("\n")
	b.WriteString("Respond with a single JSON object as instructed.")
	return b.String()
}

func highlights(state session.Document) map[string]any {
	out := make(map[string]any)
	for _, key := range highlightKeys {
		if v, ok := state[key]; ok && v != nil {
			out[key] = v
		}
	}
	if weather, ok := state["last_weather"].(map[string]any); ok {
		if summary, ok := weather["summary"].(string); ok && summary != "" {
			out["last_weather_summary"] = summary
		}
	}
	return out
}

func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimRight(buf.String(), "\n")
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// head returns the first n characters of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
