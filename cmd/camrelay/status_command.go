package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"camrelay/internal/daemonctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, relay and camera status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snapshot)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range snapshot.SystemChecks {
				fmt.Fprintln(stdout, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
			}
			if snapshot.Running {
				proc := snapshot.Process
				fmt.Fprintln(stdout, renderStatusLine("Process", statusInfo,
					fmt.Sprintf("cpu %.1f%%, rss %d MiB, %d goroutines", proc.CPUPercent, proc.RSSBytes>>20, proc.Goroutines), colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(snapshot.Dependencies, snapshot.DependencySummary, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Cameras", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if len(snapshot.Cameras) == 0 {
				fmt.Fprintln(stdout, "No cameras configured")
				return nil
			}
			fmt.Fprintln(stdout, statusIndent+fleetLine(snapshot.Fleet))
			fmt.Fprintln(stdout, cameraTable(snapshot.Cameras, colorize))
			return nil
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}
