package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"pxh/internal/clock"
	"pxh/internal/loop"
	"pxh/internal/session"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and edit the session document",
	}

	var noHistory bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the session document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sessionShow(cmd, noHistory)
		},
	}
	showCmd.Flags().BoolVar(&noHistory, "no-history", false, "Omit the history list")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the session with the default document",
		Args:  cobra.NoArgs,
		RunE:  sessionReset,
	}

	var sets []string
	var event string
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Merge fields into the session document",
		Long: `Merges key=value pairs into the session. Values are read as JSON when they
parse (true, 42, null, {"a":1}) and as plain strings otherwise.

Example:
  pxh session update --set wheels_on_blocks=true --set mode=live --event operator`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sessionUpdate(cmd, sets, event)
		},
	}
	updateCmd.Flags().StringArrayVar(&sets, "set", nil, "Field assignment key=value (repeatable)")
	updateCmd.Flags().StringVar(&event, "event", "", "Also append a history entry with this event name")

	sessionCmd.AddCommand(showCmd, resetCmd, updateCmd)
	return sessionCmd
}

func sessionShow(cmd *cobra.Command, noHistory bool) error {
	clk := clock.System()
	store := newSessionStore(clk, newEventLogger(clk))

	doc, err := store.Load()
	if err != nil {
		return err
	}
	if noHistory {
		doc = doc.WithoutHistory()
	}
	data, err := session.Encode(doc)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func sessionReset(cmd *cobra.Command, args []string) error {
	clk := clock.System()
	events := newEventLogger(clk)
	store := newSessionStore(clk, events)

	if _, err := store.Reset(); err != nil {
		return err
	}
	if err := events.Log(loop.StreamSession, map[string]any{
		"event": "session_reset",
		"path":  store.Path(),
		"cause": "requested",
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session reset: %s\n", store.Path())
	return nil
}

func sessionUpdate(cmd *cobra.Command, sets []string, event string) error {
	fields, err := parseAssignments(sets)
	if err != nil {
		return err
	}
	if len(fields) == 0 && event == "" {
		return fmt.Errorf("nothing to update: pass --set key=value or --event")
	}

	var entry map[string]any
	if event != "" {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entry = map[string]any{"event": event, "fields": keys}
	}

	clk := clock.System()
	store := newSessionStore(clk, newEventLogger(clk))
	doc, err := store.Update(fields, entry, cfg.Session.HistoryLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session updated: %d field(s), %d history entries\n", len(fields), len(doc.History()))
	return nil
}

// parseAssignments turns key=value pairs into a field map. Values that parse
// as JSON keep their type; the rest are strings.
func parseAssignments(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: want key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		fields[key] = value
	}
	return fields, nil
}
