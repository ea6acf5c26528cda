package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"camrelay/internal/api"
	"camrelay/internal/logs"
	"camrelay/internal/logstream"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow  bool
		lines   int
		filters logstream.Filters
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			apiClient, err := logs.NewStreamClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
			if err != nil {
				return err
			}

			var fallback logstream.TailClient
			if client, dialErr := ctx.dialClient(); dialErr == nil {
				defer client.Close()
				fallback = client
			}

			stdout := cmd.OutOrStdout()
			printed, err := logstream.Stream(cmd.Context(), apiClient, fallback,
				logstream.Options{Lines: lines, Follow: follow, Filters: filters},
				func(evt api.LogEvent) { fmt.Fprintln(stdout, formatLogEvent(evt)) },
				func(line string) { fmt.Fprintln(stdout, line) },
			)
			switch {
			case errors.Is(err, logstream.ErrFiltersRequireAPI):
				return fmt.Errorf("%w; set paths.api_bind and make sure the daemon is running", err)
			case errors.Is(err, logs.ErrAPIUnavailable):
				return fmt.Errorf("daemon unreachable over HTTP and IPC; start it with `camrelay daemon start`")
			case err != nil:
				return err
			}
			if !printed && !follow {
				fmt.Fprintln(stdout, "No log entries available")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show (0 for all)")
	cmd.Flags().StringVar(&filters.Component, "component", "", "Only show events from this component")
	cmd.Flags().StringVar(&filters.Camera, "camera", "", "Only show events for this camera")
	cmd.Flags().StringVar(&filters.CorrelationID, "correlation-id", "", "Only show events carrying this correlation id")
	cmd.Flags().StringVar(&filters.Level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

func formatLogEvent(evt api.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp)
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-5s", evt.Level))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	if evt.Camera != "" {
		b.WriteString(" " + evt.Camera + ":")
	}
	b.WriteString(" " + evt.Message)
	if evt.CorrelationID != "" {
		b.WriteString(" correlation_id=" + evt.CorrelationID)
	}
	if len(evt.Fields) > 0 {
		keys := make([]string, 0, len(evt.Fields))
		for k := range evt.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" " + k + "=" + evt.Fields[k])
		}
	}
	return b.String()
}
