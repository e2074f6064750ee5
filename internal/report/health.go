package report

import (
	"fmt"
	"io"
	"strings"
)

// DefaultHealthLimit is how many health records are shown by default.
const DefaultHealthLimit = 10

// HealthReport holds the newest records of the health stream.
type HealthReport struct {
	Entries []map[string]any `json:"entries"`
}

// LatestHealth keeps the last limit records. limit <= 0 keeps them all.
func LatestHealth(records []map[string]any, limit int) HealthReport {
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	if records == nil {
		records = []map[string]any{}
	}
	return HealthReport{Entries: records}
}

// WriteText renders one line per entry:
// "<ts> status=<status> dry=<dry> battery=<pct>".
func (r HealthReport) WriteText(w io.Writer) error {
	var b strings.Builder
	if len(r.Entries) == 0 {
		b.WriteString("no health records\n")
	}
	for _, entry := range r.Entries {
		fmt.Fprintf(&b, "%s status=%s dry=%s battery=%s\n",
			field(entry["ts"], "-"),
			field(entry["status"], "unknown"),
			field(entry["dry"], "unknown"),
			battery(entry))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// battery reads telemetry.battery_pct, falling back to a top-level
// battery_pct.
func battery(entry map[string]any) string {
	if telemetry, ok := entry["telemetry"].(map[string]any); ok {
		if v, ok := telemetry["battery_pct"]; ok && v != nil {
			return field(v, "n/a")
		}
	}
	return field(entry["battery_pct"], "n/a")
}

func field(v any, missing string) string {
	switch x := v.(type) {
	case nil:
		return missing
	case string:
		if x == "" {
			return missing
		}
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
