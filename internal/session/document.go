// Package session persists the robot's operational state as a single JSON
// document shared by the supervisor loop and the tool processes.
package session

// SchemaVersion marks the document layout written by DefaultDocument.
const SchemaVersion = "1.0"

// DefaultHistoryLimit caps the history list when no limit is configured.
const DefaultHistoryLimit = 100

// Document is the decoded session. It is a plain map so that fields added by
// other tools survive a load/update/save cycle untouched.
type Document map[string]any

// DefaultDocument returns a fresh copy of the initial session state.
func DefaultDocument() Document {
	return Document{
		"schema_version":         SchemaVersion,
		"mode":                   "dry-run",
		"last_action":            nil,
		"last_motion":            nil,
		"battery_pct":            nil,
		"battery_ok":             nil,
		"wheels_on_blocks":       false,
		"confirm_motion_allowed": false,
		"watchdog_heartbeat_ts":  nil,
		"last_weather":           nil,
		"last_prompt_excerpt":    nil,
		"last_model_action":      nil,
		"last_tool_payload":      nil,
		"history":                []any{},
	}
}

// History returns the history entries in insertion order. Entries that are
// not JSON objects are skipped.
func (d Document) History() []map[string]any {
	raw, _ := d["history"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}

// WithoutHistory returns a shallow copy of d minus the history list.
func (d Document) WithoutHistory() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if k == "history" {
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the string value of key, or "" when absent or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}
