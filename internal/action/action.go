// Package action turns model output into a single validated tool request.
//
// The model may say anything; only an allow-listed Tool with parameters that
// pass its schema ever reaches the executor.
package action

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is one decoded {"tool": ..., "params": {...}} object.
type Action map[string]any

// Tool returns the requested tool name, or "" when absent or not a string.
func (a Action) Tool() string {
	s, _ := a["tool"].(string)
	return s
}

// Params returns the params object. A missing or null params field is an
// empty object; any other non-object value is an error.
func (a Action) Params() (map[string]any, error) {
	raw, ok := a["params"]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	params, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("params must be an object, got %T", raw)
	}
	return params, nil
}

// Extract returns the last line of text that is a brace-delimited, valid JSON
// object. Candidates that fail to parse are skipped, so explanatory prose or
// a truncated trailing object does not hide an earlier decision.
func Extract(text string) (Action, bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(candidate, "{") || !strings.HasSuffix(candidate, "}") {
			continue
		}
		var a Action
		if err := json.Unmarshal([]byte(candidate), &a); err != nil || a == nil {
			continue
		}
		return a, true
	}
	return nil, false
}

// ParseLastLine decodes only the final line of text as a JSON object. Tool
// binaries print exactly one result object as their last line.
func ParseLastLine(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	last := text
	if i := strings.LastIndex(text, "\n"); i >= 0 {
		last = text[i+1:]
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(last)), &payload); err != nil || payload == nil {
		return nil, false
	}
	return payload, true
}
