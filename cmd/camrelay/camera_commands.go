package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"camrelay/internal/api"
	"camrelay/internal/ipc"
)

func newCamerasCommand(ctx *commandContext) *cobra.Command {
	camerasCmd := &cobra.Command{
		Use:     "cameras",
		Aliases: []string{"camera", "cam"},
		Short:   "Inspect and command supervised cameras",
	}
	camerasCmd.AddCommand(
		newCamerasListCommand(ctx),
		newCamerasShowCommand(ctx),
		newCameraActionCommand(ctx, "start", "Start a camera session (\"all\" for every camera)"),
		newCameraActionCommand(ctx, "stop", "Stop a camera session (\"all\" for every camera)"),
		newCameraActionCommand(ctx, "restart", "Restart a camera session (\"all\" for every camera)"),
		newCameraActionCommand(ctx, "remove", "Stop a camera and drop it from supervision until it is started again"),
		newCameraControlCommand(ctx),
	)
	return camerasCmd
}

func newCamerasListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cameras and their states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cameras()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Cameras) == 0 {
					fmt.Fprintln(stdout, "No cameras supervised")
					return nil
				}
				fmt.Fprintln(stdout, cameraTable(resp.Cameras, shouldColorize(stdout)))
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newCamerasShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var events int
	cmd := &cobra.Command{
		Use:   "show <camera>",
		Short: "Show one camera with its recent state transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Camera(args[0], events)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderCameraDetail(cmd, *resp)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&events, "events", "e", 10, "Number of journal entries to include")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderCameraDetail(cmd *cobra.Command, resp api.CameraResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	cam := resp.Camera

	for _, line := range renderSectionHeader(cam.Name, colorize) {
		fmt.Fprintln(stdout, line)
	}
	detail := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			value = "-"
		}
		fmt.Fprintf(stdout, "%s%-*s %s\n", statusIndent, statusLabelWidth, label+":", value)
	}
	detail("State", cam.State)
	detail("Relay path", cam.Path)
	detail("Started", cam.StartedAt)
	detail("Connected", cam.ConnectedAt)
	detail("Last frame", cam.LastFrameAt)
	detail("Frames", fmt.Sprintf("%d (%d bytes)", cam.Frames, cam.Bytes))
	detail("Attempts", fmt.Sprintf("%d", cam.Attempts))
	if cam.BackoffSeconds > 0 {
		detail("Backoff", fmt.Sprintf("%ds", cam.BackoffSeconds))
	}
	if cam.LastError != "" {
		detail("Last error", fmt.Sprintf("%s (%s)", cam.LastError, cam.ErrorKind))
	}
	if cam.LastSnapshot != "" {
		detail("Last snapshot", fmt.Sprintf("%s at %s", cam.LastSnapshot, cam.LastSnapshotAt))
	}

	if len(resp.Events) == 0 {
		return
	}
	fmt.Fprintln(stdout)
	rows := make([][]string, 0, len(resp.Events))
	for _, ev := range resp.Events {
		errText := ev.Error
		if errText == "" {
			errText = "-"
		}
		rows = append(rows, []string{ev.At, ev.From, ev.To, fmt.Sprintf("%d", ev.Attempts), errText})
	}
	fmt.Fprintln(stdout, renderTable(tableSpec{
		headers:     []string{"At", "From", "To", "Attempts", "Error"},
		aligns:      []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		stateColumn: 2,
		colorize:    colorize,
	}, rows))
}

func newCameraActionCommand(ctx *commandContext, action, short string) *cobra.Command {
	var asJSON bool
	var correlationID string
	cmd := &cobra.Command{
		Use:   action + " <camera|all>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCameraCommand(cmd, ctx, ipc.CommandRequest{
				Camera:        args[0],
				Action:        action,
				CorrelationID: correlationID,
			}, asJSON)
		},
	}
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id echoed in results and logs")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newCameraControlCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var correlationID string
	cmd := &cobra.Command{
		Use:   "control <camera|all> <action> [key=value ...]",
		Short: "Send a control action to streaming cameras",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			controlArgs, err := parseControlArgs(args[2:])
			if err != nil {
				return err
			}
			return runCameraCommand(cmd, ctx, ipc.CommandRequest{
				Camera:        args[0],
				Action:        args[1],
				Args:          controlArgs,
				CorrelationID: correlationID,
			}, asJSON)
		},
	}
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id echoed in results and logs")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func parseControlArgs(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid control argument %q (expected key=value)", raw)
		}
		out[key] = value
	}
	return out, nil
}

func runCameraCommand(cmd *cobra.Command, ctx *commandContext, req ipc.CommandRequest, asJSON bool) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.Command(req)
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s (%s)", resp.Error, resp.Kind)
		}
		if asJSON {
			if err := writeJSON(cmd, resp); err != nil {
				return err
			}
		} else {
			renderCommandResults(cmd, resp.Results)
		}
		return commandFailures(resp.Results)
	})
}

func renderCommandResults(cmd *cobra.Command, results []api.CommandResult) {
	stdout := cmd.OutOrStdout()
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		outcome := res.Status
		if res.Kind != "" {
			outcome = fmt.Sprintf("%s (%s)", res.Status, res.Kind)
		}
		response := res.Response
		if response == "" {
			response = "-"
		}
		rows = append(rows, []string{res.Camera, res.Action, outcome, res.State, response})
	}
	fmt.Fprintln(stdout, renderTable(tableSpec{
		headers:     []string{"Camera", "Action", "Result", "State", "Response"},
		stateColumn: 3,
		colorize:    shouldColorize(stdout),
	}, rows))
	if len(results) > 0 {
		fmt.Fprintf(stdout, "correlation id: %s\n", results[0].CorrelationID)
	}
}

func commandFailures(results []api.CommandResult) error {
	failed := 0
	for _, res := range results {
		if res.Status != "success" {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d camera commands failed", failed, len(results))
}
