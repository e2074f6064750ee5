package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pxh/internal/clock"
	"pxh/internal/eventlog"
	"pxh/internal/logging"
	"pxh/internal/loop"
	"pxh/internal/report"
)

// streamHealth is written by the health check tools.
const streamHealth = "health"

func newReportCmd() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize event log streams",
	}

	var voiceLog string
	var voiceJSON bool
	voiceCmd := &cobra.Command{
		Use:   "voice",
		Short: "Summarize the voice-transcript stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readStream(voiceLog, loop.StreamVoiceTranscript)
			if err != nil {
				return err
			}
			summary := report.SummarizeVoice(records)
			if voiceJSON {
				return report.WriteJSON(cmd.OutOrStdout(), summary)
			}
			return summary.WriteText(cmd.OutOrStdout())
		},
	}
	voiceCmd.Flags().StringVar(&voiceLog, "log", "", "Read this file instead of the voice-transcript stream")
	voiceCmd.Flags().BoolVar(&voiceJSON, "json", false, "Print JSON")

	var healthLog string
	var healthJSON bool
	var healthLimit int
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Show the latest health check records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readStream(healthLog, streamHealth)
			if err != nil {
				return err
			}
			latest := report.LatestHealth(records, healthLimit)
			if healthJSON {
				return report.WriteJSON(cmd.OutOrStdout(), latest)
			}
			return latest.WriteText(cmd.OutOrStdout())
		},
	}
	healthCmd.Flags().StringVar(&healthLog, "log", "", "Read this file instead of the health stream")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Print JSON")
	healthCmd.Flags().IntVar(&healthLimit, "limit", report.DefaultHealthLimit, "Number of records to show (0 for all)")

	reportCmd.AddCommand(voiceCmd, healthCmd)
	return reportCmd
}

// readStream reads path when set, else the named stream under the log root.
func readStream(path, stream string) ([]map[string]any, error) {
	var (
		records []map[string]any
		skipped int
		err     error
	)
	if path != "" {
		records, skipped, err = eventlog.ReadFile(path)
	} else {
		records, skipped, err = newEventLogger(clock.System()).Read(stream)
	}
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		logging.For(logger, logging.CategoryReport).Warn("skipped malformed log lines",
			zap.String("stream", stream),
			zap.Int("skipped", skipped))
	}
	return records, nil
}
