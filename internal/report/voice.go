// Package report summarizes event streams for operators.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// BatteryWarningPct is the battery level below which a record counts as a
// battery warning.
const BatteryWarningPct = 30

// VoiceSummary aggregates the voice-transcript stream.
type VoiceSummary struct {
	TotalRecords    int            `json:"total_records"`
	ToolCounts      map[string]int `json:"tool_counts"`
	VoiceSuccess    int            `json:"voice_success"`
	VoiceFailures   int            `json:"voice_failures"`
	BatteryWarnings int            `json:"battery_warnings"`
	LastSummary     *string        `json:"last_summary"`
}

// SummarizeVoice folds voice-transcript records into a VoiceSummary.
func SummarizeVoice(records []map[string]any) VoiceSummary {
	summary := VoiceSummary{
		TotalRecords: len(records),
		ToolCounts:   make(map[string]int),
	}

	for _, record := range records {
		tool, _ := record["tool"].(string)
		if tool == "" {
			tool = "unknown"
		}
		summary.ToolCounts[tool]++

		if voice, ok := record["voice_result"].(map[string]any); ok {
			if rc, ok := number(voice["returncode"]); ok && rc == 0 {
				summary.VoiceSuccess++
			} else {
				summary.VoiceFailures++
			}
		}

		payload, _ := record["tool_payload"].(map[string]any)
		if pct, ok := number(payload["battery_pct"]); ok && pct < BatteryWarningPct {
			summary.BatteryWarnings++
		}
		if text, ok := payload["summary"].(string); ok && strings.TrimSpace(text) != "" {
			summary.LastSummary = &text
		}
	}
	return summary
}

// WriteText renders the summary for a terminal.
func (s VoiceSummary) WriteText(w io.Writer) error {
	tools := make([]string, 0, len(s.ToolCounts))
	for tool := range s.ToolCounts {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	var b strings.Builder
	fmt.Fprintf(&b, "records: %d\n", s.TotalRecords)
	b.WriteString("tools:")
	if len(tools) == 0 {
		b.WriteString(" none")
	}
	for _, tool := range tools {
		fmt.Fprintf(&b, " %s=%d", tool, s.ToolCounts[tool])
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "voice: success=%d failure=%d\n", s.VoiceSuccess, s.VoiceFailures)
	fmt.Fprintf(&b, "battery warnings: %d\n", s.BatteryWarnings)
	if s.LastSummary != nil {
		fmt.Fprintf(&b, "last summary: %s\n", *s.LastSummary)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// number reads a JSON number, tolerating numeric types decoded elsewhere.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
