package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pxh/internal/loop"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPrompt = "You drive a PiCar-X. Reply with one JSON action."

// setupProject creates an empty project root and points PROJECT_ROOT at it.
func setupProject(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tool fixtures are shell scripts")
	}
	root := t.TempDir()
	t.Setenv("PROJECT_ROOT", root)
	for _, key := range []string{"PX_SESSION_PATH", "LOG_DIR", "CODEX_CHAT_CMD", "PX_TRANSCRIBER_CMD"} {
		t.Setenv(key, "")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	return root
}

func writePrompt(t *testing.T, root string) {
	t.Helper()
	path := filepath.Join(root, "docs", "prompts", "codex-voice-system.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(testPrompt+"\n"), 0o644))
}

func writeScript(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// execute runs the root command the way main does and returns its output and
// exit status.
func execute(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	code := exitCode(root.ExecuteContext(context.Background()), &stderr)
	return stdout.String(), stderr.String(), code
}

func readSession(t *testing.T, root string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "state", "session.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func readStreamFile(t *testing.T, root, stream string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "logs", "tool-"+stream+".log"))
	require.NoError(t, err)
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		stderr string
	}{
		{name: "nil", err: nil, code: 0, stderr: ""},
		{name: "fatal", err: &loop.FatalError{Msg: "prompt file missing: /x"}, code: 2, stderr: "voice-loop error: prompt file missing: /x\n"},
		{name: "wrapped fatal", err: errors.Join(errors.New("outer"), &loop.FatalError{Msg: "boom"}), code: 2, stderr: "voice-loop error: boom\n"},
		{name: "plain", err: errors.New("bad flag"), code: 1, stderr: "Error: bad flag\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.Equal(t, tt.code, exitCode(tt.err, &buf))
			assert.Equal(t, tt.stderr, buf.String())
		})
	}
}

func TestParseAssignments(t *testing.T) {
	fields, err := parseAssignments([]string{"a=true", "b=42", "c=live", `d={"x":1}`, "e=", "f=null"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": true,
		"b": float64(42),
		"c": "live",
		"d": map[string]any{"x": float64(1)},
		"e": "",
		"f": nil,
	}, fields)

	_, err = parseAssignments([]string{"novalue"})
	assert.ErrorContains(t, err, "want key=value")
	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)
}

func TestLoop_TextStatusTurn(t *testing.T) {
	root := setupProject(t)
	writePrompt(t, root)
	writeScript(t, filepath.Join(root, "bin", "tool-status"),
		`echo "dry=$PX_DRY root=$PROJECT_ROOT"
echo '{"battery_pct": 82, "battery_ok": true}'
`)
	model := writeScript(t, filepath.Join(root, "model.sh"),
		`cat > "$PROJECT_ROOT/prompt.txt"
echo 'Checking status.'
echo '{"tool": "tool_status", "params": {}}'
`)

	stdout, stderr, code := execute(t, "status please\n",
		"loop", "--codex-cmd", model, "--max-turns", "3", "--auto-log")
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, "You> ")
	assert.Contains(t, stdout, "dry=0 root="+root)
	assert.Contains(t, stdout, "[voice-loop] No input, exiting.")

	prompt, err := os.ReadFile(filepath.Join(root, "prompt.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(prompt), testPrompt+"\n\n"))
	assert.Contains(t, string(prompt), "User transcript: status please\n")

	doc := readSession(t, root)
	assert.Equal(t, "tool_status", doc["last_action"])
	assert.Equal(t, float64(82), doc["battery_pct"])
	assert.Equal(t, true, doc["battery_ok"])
	assert.Equal(t, "status please", doc["last_prompt_excerpt"])
	assert.NotNil(t, doc["watchdog_heartbeat_ts"])

	transcripts := readStreamFile(t, root, "voice-transcript")
	require.Len(t, transcripts, 1)
	assert.Equal(t, "status please", transcripts[0]["transcript"])
	assert.Equal(t, float64(0), transcripts[0]["returncode"])
	assert.NotEmpty(t, transcripts[0]["run_id"])

	loopRecords := readStreamFile(t, root, "voice-loop")
	require.Len(t, loopRecords, 2)
	assert.Contains(t, loopRecords[0], "model_rc")
	assert.Equal(t, "tool_status", loopRecords[1]["tool"])
}

func TestLoop_DryRunFlagOverridesLive(t *testing.T) {
	root := setupProject(t)
	writePrompt(t, root)
	writeScript(t, filepath.Join(root, "bin", "tool-stop"), `echo "stop dry=${PX_DRY:-unset}"
`)
	model := writeScript(t, filepath.Join(root, "model.sh"), `cat >/dev/null
echo '{"tool": "tool_stop"}'
`)

	stdout, stderr, code := execute(t, "halt\nnever read\n",
		"loop", "--codex-cmd", model, "--dry-run", "--exit-on-stop")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "stop dry=1")
	assert.Contains(t, stdout, "[voice-loop] Stop command acknowledged. Exiting loop.")
	assert.Equal(t, 1, strings.Count(stdout, "You> "))
}

func TestLoop_FatalConfiguration(t *testing.T) {
	t.Run("missing prompt", func(t *testing.T) {
		root := setupProject(t)
		_, stderr, code := execute(t, "", "loop")
		assert.Equal(t, 2, code)
		assert.Equal(t, "voice-loop error: prompt file missing: "+
			filepath.Join(root, "docs", "prompts", "codex-voice-system.md")+"\n", stderr)
	})

	t.Run("voice without transcriber", func(t *testing.T) {
		root := setupProject(t)
		writePrompt(t, root)
		_, stderr, code := execute(t, "", "loop", "--input-mode", "voice")
		assert.Equal(t, 2, code)
		assert.Equal(t, "voice-loop error: voice mode requested but --transcriber-cmd not provided\n", stderr)
	})

	t.Run("unknown input mode", func(t *testing.T) {
		root := setupProject(t)
		writePrompt(t, root)
		_, stderr, code := execute(t, "", "loop", "--input-mode", "morse")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, `Error: invalid input mode: "morse"`)
	})
}

func TestLoop_VoiceInput(t *testing.T) {
	root := setupProject(t)
	writePrompt(t, root)
	writeScript(t, filepath.Join(root, "bin", "tool-status"), `echo '{"battery_pct": 25}'
`)
	transcriber := writeScript(t, filepath.Join(root, "transcribe.sh"), `
if [ -f "$PROJECT_ROOT/heard" ]; then exit 0; fi
touch "$PROJECT_ROOT/heard"
echo "  how is the battery  "
`)
	model := writeScript(t, filepath.Join(root, "model.sh"), `cat >/dev/null
echo '{"tool": "tool_status"}'
`)
	t.Setenv("PX_TRANSCRIBER_CMD", transcriber)

	stdout, stderr, code := execute(t, "", "loop", "--input-mode", "voice", "--codex-cmd", model)
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stdout, "You> ")
	assert.Contains(t, stdout, "[voice-loop] No input, exiting.")

	transcripts := readStreamFile(t, root, "voice-transcript")
	require.Len(t, transcripts, 1)
	assert.Equal(t, "how is the battery", transcripts[0]["transcript"])
}

func TestSessionCommands(t *testing.T) {
	root := setupProject(t)

	stdout, stderr, code := execute(t, "", "session", "update",
		"--set", "wheels_on_blocks=true", "--set", "mode=live", "--event", "operator")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "session updated: 2 field(s), 1 history entries\n", stdout)

	doc := readSession(t, root)
	assert.Equal(t, true, doc["wheels_on_blocks"])
	assert.Equal(t, "live", doc["mode"])
	history := doc["history"].([]any)
	require.Len(t, history, 1)
	entry := history[0].(map[string]any)
	assert.Equal(t, "operator", entry["event"])
	assert.Equal(t, []any{"mode", "wheels_on_blocks"}, entry["fields"])
	assert.NotEmpty(t, entry["ts"])

	stdout, _, code = execute(t, "", "session", "show", "--no-history")
	require.Equal(t, 0, code)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &shown))
	assert.NotContains(t, shown, "history")
	assert.Equal(t, "live", shown["mode"])

	stdout, _, code = execute(t, "", "session", "reset")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "session reset: ")
	doc = readSession(t, root)
	assert.Equal(t, "dry-run", doc["mode"])
	assert.Equal(t, false, doc["wheels_on_blocks"])

	resets := readStreamFile(t, root, "session")
	require.Len(t, resets, 1)
	assert.Equal(t, "session_reset", resets[0]["event"])
	assert.Equal(t, "requested", resets[0]["cause"])

	_, stderr, code = execute(t, "", "session", "update")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "nothing to update")
}

func TestReportCommands(t *testing.T) {
	root := setupProject(t)
	logs := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logs, 0o755))

	voice := strings.Join([]string{
		`{"ts":"2025-10-26T19:00:00Z","tool":"tool_weather","voice_result":{"returncode":0},"tool_payload":{"summary":"Sunny"}}`,
		`not json`,
		`{"ts":"2025-10-26T19:01:00Z","tool":"tool_status","tool_payload":{"battery_pct":25}}`,
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(logs, "tool-voice-transcript.log"), []byte(voice), 0o644))

	stdout, stderr, code := execute(t, "", "report", "voice", "--json")
	require.Equal(t, 0, code, stderr)
	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, float64(2), summary["total_records"])
	assert.Equal(t, float64(1), summary["voice_success"])
	assert.Equal(t, float64(1), summary["battery_warnings"])
	assert.Equal(t, "Sunny", summary["last_summary"])

	health := filepath.Join(root, "health.log")
	require.NoError(t, os.WriteFile(health, []byte(
		`{"ts":"2025-10-26T19:00:00Z","status":"ok","dry":true,"telemetry":{"battery_pct":71}}`+"\n"), 0o644))
	stdout, stderr, code = execute(t, "", "report", "health", "--log", health)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "2025-10-26T19:00:00Z status=ok dry=true battery=71\n", stdout)

	stdout, _, code = execute(t, "", "report", "health")
	require.Equal(t, 0, code)
	assert.Equal(t, "no health records\n", stdout)
}

func TestToolCommands(t *testing.T) {
	root := setupProject(t)
	writeScript(t, filepath.Join(root, "bin", "tool-circle"),
		`echo "speed=$PX_SPEED duration=$PX_DURATION dry=${PX_DRY:-unset}"
`)
	writeScript(t, filepath.Join(root, "bin", "tool-stop"), `echo "motors busy" >&2
exit 3
`)

	stdout, stderr, code := execute(t, "", "tool", "run", "tool_circle", "--param", "speed=20", "--dry-run")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "speed=20 duration=6.00 dry=1\n", stdout)

	records := readStreamFile(t, root, "cli")
	require.Len(t, records, 1)
	assert.Equal(t, "tool_circle", records[0]["tool"])
	assert.Equal(t, true, records[0]["dry"])

	_, stderr, code = execute(t, "", "tool", "run", "tool_circle", "--param", "speed=99")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error: invalid action: ")

	_, stderr, code = execute(t, "", "tool", "run", "tool_stop")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "motors busy\n")
	assert.Contains(t, stderr, "Error: tool_stop exited with 3")

	_, stderr, code = execute(t, "", "tool", "run", "tool_teleport")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unsupported tool requested: tool_teleport")

	stdout, _, code = execute(t, "", "tool", "list")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "tool_circle")
	assert.Regexp(t, `tool_weather\s+missing`, stdout)
	assert.Regexp(t, `tool_circle\s+ok`, stdout)
}

func TestConfigCommands(t *testing.T) {
	root := setupProject(t)

	stdout, stderr, code := execute(t, "", "config", "init")
	require.Equal(t, 0, code, stderr)
	path := filepath.Join(root, "pxh.yaml")
	assert.Equal(t, "wrote "+path+"\n", stdout)
	assert.FileExists(t, path)

	_, stderr, code = execute(t, "", "config", "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already exists")

	_, _, code = execute(t, "", "config", "init", "--force")
	assert.Equal(t, 0, code)

	stdout, _, code = execute(t, "", "config", "show")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "max_turns: 50")
	assert.Contains(t, stdout, "input_mode: text")
}
